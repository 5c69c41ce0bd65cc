package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Deliverus/internal/config/retry-scheduler"
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/obs/retry"
	"github.com/NordCoder/Deliverus/internal/outbox"
	"github.com/NordCoder/Deliverus/internal/repository"
	"github.com/NordCoder/Deliverus/internal/services/archiver"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	retryscheduler "github.com/NordCoder/Deliverus/internal/services/retry-scheduler"
	"github.com/NordCoder/Deliverus/internal/services/retry-scheduler/repo"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	_ = godotenv.Load()

	cmd := &cobra.Command{
		Use:          "retry-scheduler",
		Short:        "Schedules retries and dispatches retry events",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cfgPath := shared.AddConfigFlag(cmd, "../config/retry-scheduler.yaml")
	cmd.RunE = func(*cobra.Command, []string) error { return serve(cfgPath()) }
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfgPath string) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting retry-scheduler",
		zap.Duration("tick", cfg.Sched.Tick),
		zap.Int("batch_limit", cfg.Sched.BatchLimit),
		zap.String("dispatch", cfg.Dispatch.Driver),
		zap.Bool("archive", cfg.Archive.Enable),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	store, err := repository.Open(rootCtx, cfg.Storage.Driver, cfg.DB, l)
	if err != nil {
		l.Fatal("storage", zap.Error(err))
	}
	defer store.Close()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, store.Health, l)

	pub, closePub, err := initPublisher(rootCtx, cfg, l)
	if err != nil {
		l.Fatal("dispatch publisher", zap.Error(err))
	}
	defer closePub()

	var limiter *rate.Limiter
	if cfg.Sched.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Sched.RatePerSec), max(cfg.Sched.Burst, 1))
	}

	led := ledger.New(store.Records, store.Tracking, store.Tx, l)
	uc := retryscheduler.NewUC(store.Records, led, store.Tx, repo.OutboxEvents{R: store.Outbox}, nil, limiter)
	sched := retryscheduler.New(l, uc, cfg.Sched.Tick, cfg.Sched.BatchLimit)

	dispatch := outbox.MakeGlobalOutboxHandler(pub, retry.DefaultPublishPolicy(l))
	ob := outbox.NewOutboxRunner(l, store.Outbox, dispatch, cfg.Outbox)

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return ob.Run(gctx) })
	if cfg.Archive.Enable {
		arch := archiver.New(l, led, cfg.Archive.Every, cfg.Archive.DaysOld)
		g.Go(func() error { return arch.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("runner stopped", zap.Error(err))
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
	return nil
}
