package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"nutribot/internal/bot"
	"nutribot/internal/config"
	"nutribot/internal/jobs"
	"nutribot/internal/metrics"
	"nutribot/internal/resolver"
	"nutribot/internal/server"
	"nutribot/internal/session"
	"nutribot/internal/storage"
	"nutribot/internal/tally"
	"nutribot/internal/telegram"
	"nutribot/internal/transcribe"
)

// Run is the application entry point. It loads configuration, wires the
// components and blocks until ctx is cancelled or a component fails.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
		slog.String("timezone", cfg.Report.Timezone),
	)

	m := metrics.New()

	store, err := storage.NewSQLiteStorage(ctx, cfg.Database.Path, storage.Options{
		ReadConns:    cfg.Database.ReadConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
		QueryTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	engine := tally.NewEngine(store, cfg.Report.Location)
	sessions := session.NewManager(store, cfg.Session.ProposalTTL, logger, m)

	res := resolver.NewClient(resolver.Config{
		BaseURL:          cfg.Resolver.BaseURL,
		APIKey:           cfg.Resolver.APIKey,
		Model:            cfg.Resolver.Model,
		Timeout:          cfg.Resolver.Timeout,
		AllowLegacyArity: cfg.Resolver.AllowLegacyArity,
		CacheTTL:         cfg.Resolver.CacheTTL,
		RatePerSecond:    cfg.Resolver.RatePerSecond,
	}, logger, m)

	voice := transcribe.NewService(transcribe.Config{
		BaseURL:  cfg.Transcribe.BaseURL,
		APIKey:   cfg.Transcribe.APIKey,
		Model:    cfg.Transcribe.Model,
		Language: cfg.Transcribe.Language,
		Timeout:  cfg.Transcribe.Timeout,
	}, logger, m)

	var (
		tg        *telegram.Client
		messenger bot.Messenger = logMessenger{log: logger}
	)
	if cfg.Telegram.Token != "" {
		tg = telegram.NewClient(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIURL:      cfg.Telegram.APIURL,
			PollTimeout: cfg.Telegram.PollTimeout,
		}, logger)
		messenger = tg
	} else {
		logger.Warn("telegram token not set, chat transport disabled")
	}

	reports, err := jobs.NewDailyReportJob(cfg.Report, store, engine, messenger, logger, m)
	if err != nil {
		return fmt.Errorf("failed to create report job: %w", err)
	}

	svc := bot.NewService(store, sessions, res, engine, reports, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Report.Enabled {
		if err := reports.Start(gctx); err != nil {
			return fmt.Errorf("failed to start report job: %w", err)
		}
	}
	defer func() {
		if err := reports.Stop(); err != nil {
			logger.Error("failed to stop report job", "error", err)
		}
	}()

	if tg != nil {
		handler := bot.NewHandler(svc, tg, voice, logger)
		g.Go(func() error {
			return tg.Poll(gctx, handler.Handle)
		})
	}

	var srv *server.CommandServer
	if cfg.Server.Enabled {
		srv = server.NewCommandServer(&server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			APIKey:          cfg.Server.APIKey,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Version:         Version,
		}, svc, reports, store, m, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if srv != nil {
			return srv.Stop(context.WithoutCancel(ctx))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// logMessenger stands in for the chat transport when none is configured.
type logMessenger struct {
	log *slog.Logger
}

func (l logMessenger) Send(_ context.Context, msg bot.OutboundMessage) error {
	l.log.Info("outbound message", "user_id", msg.UserID, "text", msg.Text, "proposal_id", msg.ProposalID)
	return nil
}
