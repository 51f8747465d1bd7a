package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Session    SessionConfig    `yaml:"session"`
	Report     ReportConfig     `yaml:"report"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP command surface settings.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"          env:"SERVER_ENABLED"          env-default:"true"`
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8011"`
	APIKey          string        `yaml:"api_key"          env:"SERVER_API_KEY"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path         string        `yaml:"path"           env:"DATABASE_PATH"           env-default:"./data/nutribot.db"`
	ReadConns    int           `yaml:"read_conns"     env:"DATABASE_READ_CONNS"     env-default:"4"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"   env:"DATABASE_BUSY_TIMEOUT"   env-default:"5s"`
	QueryTimeout time.Duration `yaml:"query_timeout"  env:"DATABASE_QUERY_TIMEOUT"  env-default:"5s"`
}

// TelegramConfig holds the Bot API transport settings.
type TelegramConfig struct {
	Token       string        `yaml:"token"        env:"TELEGRAM_TOKEN"`
	APIURL      string        `yaml:"api_url"      env:"TELEGRAM_API_URL"      env-default:"https://api.telegram.org"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"30s"`
}

// ResolverConfig holds the nutrient estimation client settings.
type ResolverConfig struct {
	BaseURL          string        `yaml:"base_url"           env:"RESOLVER_BASE_URL"           env-default:"https://api.openai.com/v1"`
	APIKey           string        `yaml:"api_key"            env:"OPENAI_API_KEY"`
	Model            string        `yaml:"model"              env:"RESOLVER_MODEL"              env-default:"gpt-4o-mini"`
	Timeout          time.Duration `yaml:"timeout"            env:"RESOLVER_TIMEOUT"            env-default:"20s"`
	AllowLegacyArity bool          `yaml:"allow_legacy_arity" env:"RESOLVER_ALLOW_LEGACY_ARITY" env-default:"true"`
	CacheTTL         time.Duration `yaml:"cache_ttl"          env:"RESOLVER_CACHE_TTL"          env-default:"24h"`
	RatePerSecond    float64       `yaml:"rate_per_second"    env:"RESOLVER_RATE_PER_SECOND"    env-default:"5"`
}

// TranscribeConfig holds the speech-to-text client settings.
type TranscribeConfig struct {
	BaseURL  string        `yaml:"base_url" env:"TRANSCRIBE_BASE_URL" env-default:"https://api.openai.com/v1"`
	APIKey   string        `yaml:"api_key"  env:"OPENAI_API_KEY"`
	Model    string        `yaml:"model"    env:"TRANSCRIBE_MODEL"    env-default:"whisper-1"`
	Language string        `yaml:"language" env:"TRANSCRIBE_LANGUAGE" env-default:"pt"`
	Timeout  time.Duration `yaml:"timeout"  env:"TRANSCRIBE_TIMEOUT"  env-default:"60s"`
}

// SessionConfig holds confirmation session settings.
type SessionConfig struct {
	ProposalTTL time.Duration `yaml:"proposal_ttl" env:"SESSION_PROPOSAL_TTL" env-default:"30m"`
}

// ReportConfig holds daily report scheduling settings.
type ReportConfig struct {
	Enabled           bool    `yaml:"enabled"              env:"REPORT_ENABLED"              env-default:"true"`
	Timezone          string  `yaml:"timezone"             env:"REPORT_TIMEZONE"             env-default:"America/Sao_Paulo"`
	Cron              string  `yaml:"cron"                 env:"REPORT_CRON"                 env-default:"0 8 * * *"`
	MissedRunPolicy   string  `yaml:"missed_run_policy"    env:"REPORT_MISSED_RUN_POLICY"    env-default:"skip"`
	Workers           int     `yaml:"workers"              env:"REPORT_WORKERS"              env-default:"4"`
	MaxSendsPerSecond float64 `yaml:"max_sends_per_second" env:"REPORT_MAX_SENDS_PER_SECOND" env-default:"25"`

	// Location is resolved from Timezone during validation.
	Location *time.Location `yaml:"-" env:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Missed run policies.
const (
	MissedRunSkip    = "skip"
	MissedRunCatchUp = "catch_up"
)
