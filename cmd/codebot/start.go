package codebot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/gateway"
	"github.com/igorsilveira/codebot/pkg/scheduler"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start polling the feed and answering mentions",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, nil)
	logger.Info("starting codebot",
		slog.String("version", version),
		slog.String("feed", cfg.Feed.Kind),
		slog.String("handle", cfg.Bot.Handle),
		slog.String("module", cfg.Bot.Module),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sched, err := newScheduler(cfg, a.runner, a.audit)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	deliveries, unsubscribe := a.stream.Subscribe(64)
	defer unsubscribe()
	g.Go(func() error {
		a.hub.Follow(ctx, deliveries)
		return nil
	})

	g.Go(func() error { return sched.Start(ctx) })

	if cfg.Gateway.Enabled {
		gw := gateway.New(gateway.Config{
			Bind:      cfg.Gateway.Bind,
			Port:      cfg.Gateway.Port,
			Bot:       a.bot,
			Ledger:    a.ledger,
			Hub:       a.hub,
			Logger:    logger,
			AuthToken: cfg.Gateway.AuthToken,
			Info: gateway.Info{
				Feed:    a.feed.Name(),
				Handle:  cfg.Bot.Handle,
				Module:  a.module.Name(),
				Version: version,
			},
		})
		g.Go(func() error { return gw.Start(ctx) })
	}

	g.Go(func() error {
		err := a.bot.Run(ctx)
		// stop the gateway and scheduler along with the bot
		cancel()
		return err
	})

	err = g.Wait()
	if n := a.stream.Dropped(); n > 0 {
		logger.Warn("result deliveries dropped by slow subscribers", slog.Int("count", n))
	}
	logger.Info("shutting down")
	return err
}

func newScheduler(cfg *config.Config, sw scheduler.Sweeper, auditLog *audit.Logger) (*scheduler.Scheduler, error) {
	ttl, err := cfg.ArtifactTTL()
	if err != nil {
		return nil, err
	}
	retention, err := cfg.AuditRetention()
	if err != nil {
		return nil, err
	}

	s := scheduler.New()
	if err := s.Add(scheduler.SweepJob(cfg.Housekeep.Schedule, sw, ttl, auditLog)); err != nil {
		return nil, err
	}
	if err := s.Add(scheduler.PruneAuditJob(cfg.Housekeep.Schedule, auditLog, retention)); err != nil {
		return nil, err
	}
	return s, nil
}
