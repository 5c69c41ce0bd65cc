package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Deliverus/internal/config/report-consumer"
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/repository"
	"github.com/NordCoder/Deliverus/internal/repository/kafka"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	reportconsumer "github.com/NordCoder/Deliverus/internal/services/report-consumer"
	"github.com/NordCoder/Deliverus/internal/services/webhook"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cmd := &cobra.Command{
		Use:          "report-consumer",
		Short:        "Applies delivery reports from kafka",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cfgPath := shared.AddConfigFlag(cmd, "../config/report-consumer.yaml")
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

	l.Info("starting report-consumer",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
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

	cons := kafka.BootstrapConsumer(rootCtx, &cfg.In, l)
	defer func() { _ = cons.Close() }()

	led := ledger.New(store.Records, store.Tracking, store.Tx, l)
	run := reportconsumer.NewRunner(l, cons, webhook.New(led, l))

	errCh := make(chan error, 1)
	go func() {
		l.Info("consumer starting")
		errCh <- run.Run(rootCtx)
	}()

	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("consumer error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
	return nil
}
