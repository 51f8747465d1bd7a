package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"nutribot/internal/bot"
	"nutribot/internal/config"
	"nutribot/internal/metrics"
	"nutribot/internal/models"
	"nutribot/internal/report"
	"nutribot/internal/tally"
)

const jobName = "daily_report"

type runStore interface {
	ListUsersWithReportsEnabled(ctx context.Context) ([]int64, error)
	RecordRun(ctx context.Context, run models.ReportRun) (models.ReportRun, error)
	LastRun(ctx context.Context) (models.ReportRun, bool, error)
}

type dailySource interface {
	Daily(ctx context.Context, userID int64, day time.Time) (models.DailyReport, error)
}

// DailyReportJob sends every opted-in user the summary of the previous day.
type DailyReportJob struct {
	cfg       config.ReportConfig
	loc       *time.Location
	schedule  cron.Schedule
	store     runStore
	tally     dailySource
	messenger bot.Messenger
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time

	scheduler gocron.Scheduler
	job       gocron.Job
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDailyReportJob expects a validated config.
func NewDailyReportJob(cfg config.ReportConfig, store runStore, t dailySource, messenger bot.Messenger, logger *slog.Logger, m *metrics.Metrics) (*DailyReportJob, error) {
	loc := cfg.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	schedule, err := config.ParseSchedule(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", cfg.Cron, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	limit := rate.Limit(cfg.MaxSendsPerSecond)
	if cfg.MaxSendsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := int(cfg.MaxSendsPerSecond)
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DailyReportJob{
		cfg:       cfg,
		loc:       loc,
		schedule:  schedule,
		store:     store,
		tally:     t,
		messenger: messenger,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   m,
		log:       logger.With("component", "daily_report"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetClock replaces the time source. Call before Start.
func (j *DailyReportJob) SetClock(now func() time.Time) { j.now = now }

// Start applies the missed-run policy and registers the daily trigger.
func (j *DailyReportJob) Start(ctx context.Context) error {
	if err := j.checkMissedRun(ctx); err != nil {
		j.log.Warn("missed run check failed", "error", err)
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(j.loc))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	cronWithTZ := fmt.Sprintf("CRON_TZ=%s %s", j.loc.String(), j.cfg.Cron)
	job, err := scheduler.NewJob(
		gocron.CronJob(cronWithTZ, false),
		gocron.NewTask(j.fire),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	j.scheduler = scheduler
	j.job = job
	scheduler.Start()

	next, _ := job.NextRun()
	j.log.Info("daily report scheduled", "cron", j.cfg.Cron, "timezone", j.loc.String(), "next_run", next)
	return nil
}

// Stop cancels in-flight runs and waits for them.
func (j *DailyReportJob) Stop() error {
	j.cancel()
	var err error
	if j.scheduler != nil {
		err = j.scheduler.Shutdown()
	}
	j.wg.Wait()
	return err
}

// NextRun is the next scheduled firing.
func (j *DailyReportJob) NextRun() time.Time {
	return j.schedule.Next(j.now().In(j.loc))
}

// RunNow runs the scheduled loop on demand for yesterday's date. The run
// outlives ctx; only Stop cancels it.
func (j *DailyReportJob) RunNow(ctx context.Context, trigger models.RunTrigger) (models.ReportRun, error) {
	ctx, cancel := j.detach(ctx)
	defer cancel()
	return j.runForDay(ctx, trigger, tally.Yesterday(j.now(), j.loc))
}

// SendTo runs the same loop for a single user regardless of their opt-in.
func (j *DailyReportJob) SendTo(ctx context.Context, userID int64) (models.ReportRun, error) {
	ctx, cancel := j.detach(ctx)
	defer cancel()
	day := tally.Yesterday(j.now(), j.loc)
	return j.run(ctx, models.TriggerManual, day, []int64{userID})
}

// detach keeps ctx's values but ties cancellation to the job's lifetime.
func (j *DailyReportJob) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(j.ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (j *DailyReportJob) fire() {
	j.wg.Add(1)
	defer j.wg.Done()

	if _, err := j.RunNow(j.ctx, models.TriggerScheduled); err != nil {
		j.log.Error("scheduled report run failed", "error", err)
	}
}

func (j *DailyReportJob) runForDay(ctx context.Context, trigger models.RunTrigger, day time.Time) (models.ReportRun, error) {
	audience, err := j.store.ListUsersWithReportsEnabled(ctx)
	if err != nil {
		return models.ReportRun{}, fmt.Errorf("load audience: %w", err)
	}
	return j.run(ctx, trigger, day, audience)
}

// run is the single dispatch loop behind every trigger. A failing user is
// logged and counted; it never stops the others.
func (j *DailyReportJob) run(ctx context.Context, trigger models.RunTrigger, day time.Time, audience []int64) (run models.ReportRun, err error) {
	date := tally.FormatDate(day, j.loc)
	log := j.log.With("date", date, "trigger", string(trigger))
	run = models.ReportRun{Date: date, Trigger: trigger, StartedAt: j.now(), Audience: len(audience)}

	defer func() {
		if r := recover(); r != nil {
			log.Error("report run panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("report run panicked: %v", r)
		}
	}()

	log.Info("report run started", "audience", len(audience))
	j.metrics.ReportRun(string(trigger))

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.cfg.Workers)
	for _, userID := range audience {
		g.Go(func() error {
			if err := j.deliver(ctx, userID, day); err != nil {
				failed.Add(1)
				j.metrics.Dispatch("failed")
				log.Warn("report delivery failed", "user_id", userID, "error", err)
				return nil
			}
			delivered.Add(1)
			j.metrics.Dispatch("delivered")
			return nil
		})
	}
	_ = g.Wait()

	run.Delivered = int(delivered.Load())
	run.Failed = int(failed.Load())
	run.FinishedAt = j.now()

	// The run is recorded even when ctx was cancelled mid-way.
	recorded, recErr := j.store.RecordRun(context.WithoutCancel(ctx), run)
	if recErr != nil {
		log.Error("failed to record report run", "error", recErr)
	} else {
		run = recorded
	}

	log.Info("report run finished",
		"delivered", run.Delivered,
		"failed", run.Failed,
		"took", run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

func (j *DailyReportJob) deliver(ctx context.Context, userID int64, day time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := j.limiter.Wait(ctx); err != nil {
		return err
	}
	daily, err := j.tally.Daily(ctx, userID, day)
	if err != nil {
		return err
	}
	return j.messenger.Send(ctx, bot.OutboundMessage{UserID: userID, Text: report.Daily(daily)})
}

func (j *DailyReportJob) checkMissedRun(ctx context.Context) error {
	last, found, err := j.store.LastRun(ctx)
	if err != nil {
		return err
	}
	day, missed := MissedRun(last, found, j.schedule, j.now(), j.loc)
	if !missed {
		return nil
	}

	date := tally.FormatDate(day, j.loc)
	if j.cfg.MissedRunPolicy != config.MissedRunCatchUp {
		j.log.Warn("daily report run was missed and will not be sent", "date", date, "last_run", last.Date)
		return nil
	}

	j.log.Warn("daily report run was missed, catching up", "date", date, "last_run", last.Date)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if _, err := j.runForDay(j.ctx, models.TriggerCatchUp, day); err != nil {
			j.log.Error("catch-up report run failed", "error", err)
		}
	}()
	return nil
}
