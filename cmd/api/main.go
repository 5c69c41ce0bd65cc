package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Deliverus/internal/config/api"
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/repository"
	"github.com/NordCoder/Deliverus/internal/services/api"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	retryscheduler "github.com/NordCoder/Deliverus/internal/services/retry-scheduler"
	"github.com/NordCoder/Deliverus/internal/services/retry-scheduler/repo"
	"github.com/NordCoder/Deliverus/internal/services/stats"
	"github.com/NordCoder/Deliverus/internal/services/webhook"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cmd := &cobra.Command{
		Use:          "api",
		Short:        "Webhook and admin HTTP API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cfgPath := shared.AddConfigFlag(cmd, "../config/api.yaml")
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

	logger, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting api", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version),
		zap.String("storage", cfg.Storage.Driver))

	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	store, err := repository.Open(rootCtx, cfg.Storage.Driver, cfg.DB, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer store.Close()

	cache, closeCache, err := initStatsCache(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("stats cache", zap.Error(err))
	}
	defer closeCache()

	l := ledger.New(store.Records, store.Tracking, store.Tx, logger)
	srv := api.NewServer(api.Deps{
		Ledger:     l,
		Translator: webhook.New(l, logger),
		Scheduler:  retryscheduler.NewUC(store.Records, l, store.Tx, repo.OutboxEvents{R: store.Outbox}, nil, nil),
		Reporter:   stats.New(store.Stats, cache, cfg.Stats.Redis.TTL, nil, logger),
		Health:     store.Health,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	logger.Info("bye")
	return nil
}
