package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.ReadConns <= 0 {
		return fmt.Errorf("database.read_conns must be > 0 (got %d)", c.Database.ReadConns)
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver.timeout must be > 0 (got %s)", c.Resolver.Timeout)
	}
	if c.Resolver.RatePerSecond <= 0 {
		return fmt.Errorf("resolver.rate_per_second must be > 0 (got %v)", c.Resolver.RatePerSecond)
	}
	if c.Transcribe.Timeout <= 0 {
		return fmt.Errorf("transcribe.timeout must be > 0 (got %s)", c.Transcribe.Timeout)
	}
	if c.Session.ProposalTTL <= 0 {
		return fmt.Errorf("session.proposal_ttl must be > 0 (got %s)", c.Session.ProposalTTL)
	}
	if err := c.Report.validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

func (r *ReportConfig) validate() error {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
	}
	r.Location = loc

	if _, err := ParseSchedule(r.Cron); err != nil {
		return fmt.Errorf("cron %q: %w", r.Cron, err)
	}

	switch r.MissedRunPolicy {
	case MissedRunSkip, MissedRunCatchUp:
	default:
		return fmt.Errorf("missed_run_policy must be %q or %q (got %q)", MissedRunSkip, MissedRunCatchUp, r.MissedRunPolicy)
	}

	if r.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", r.Workers)
	}
	if r.MaxSendsPerSecond <= 0 {
		return fmt.Errorf("max_sends_per_second must be > 0 (got %v)", r.MaxSendsPerSecond)
	}
	return nil
}

// ParseSchedule parses a standard five-field cron expression.
// Timezone prefixes are rejected; the zone always comes from report.timezone.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return nil, fmt.Errorf("timezone prefix not allowed, use report.timezone")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}
