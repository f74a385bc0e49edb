package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/alerts"
	"github.com/quantfold/cryptolake/internal/analytics"
	"github.com/quantfold/cryptolake/internal/api"
	"github.com/quantfold/cryptolake/internal/backfill"
	"github.com/quantfold/cryptolake/internal/coingecko"
	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/database"
	"github.com/quantfold/cryptolake/internal/history"
	"github.com/quantfold/cryptolake/internal/ingest"
	"github.com/quantfold/cryptolake/internal/logging"
	"github.com/quantfold/cryptolake/internal/normalize"
	"github.com/quantfold/cryptolake/internal/objstore"
	"github.com/quantfold/cryptolake/internal/pipeline"
)

func main() {
	mode := flag.String("mode", "cycle", "what to run: cycle, ingest, normalize, analyze, backfill or serve")
	source := flag.String("source", "", "market-data provider (defaults to provider.name from config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *source != "" {
		cfg.Provider.Name = *source
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, cfg, logger); err != nil {
		if errors.Is(err, pipeline.ErrNoRawData) {
			logger.Info("No raw payloads to normalize, nothing to do")
			return
		}
		logger.WithError(err).Fatalf("Mode %s failed", *mode)
	}
}

func run(ctx context.Context, mode string, cfg *config.Config, logger *logrus.Logger) error {
	switch mode {
	case "backfill":
		return backfill.NewDownloader(cfg.Backfill, logger).Run(ctx)
	case "cycle", "ingest", "normalize", "analyze", "serve":
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	objects, store, cleanup, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if mode == "serve" {
		return serve(ctx, cfg, store, logger)
	}

	engine := analytics.NewEngine(store, cfg.Analytics, logger)
	runner, err := buildRunner(ctx, cfg, objects, engine, logger)
	if err != nil {
		return err
	}

	switch mode {
	case "cycle":
		return runner.RunCycle(ctx, cfg.Provider.AssetIDs)
	case "ingest":
		return runner.RunIngest(ctx, cfg.Provider.AssetIDs)
	case "normalize":
		return runner.RunNormalize(ctx)
	case "analyze":
		return runner.RunAnalyze(ctx)
	}
	return nil
}

// buildStorage wires the object store for pipeline artifacts and the
// state store for the analyzed summary. With the postgres backend the
// artifacts still live on the local filesystem; only the state moves
// into the database.
func buildStorage(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (objstore.Store, history.Store, func(), error) {
	cleanup := func() {}

	switch cfg.Storage.Backend {
	case "local":
		objects, err := objstore.NewFSStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return objects, history.NewObjectStore(objects, cfg.Storage.StateName, logger), cleanup, nil

	case "gcs":
		raw, err := objstore.NewGCSStore(ctx, cfg.Storage.RawBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		stateBucket := cfg.Storage.StateBucket
		if stateBucket == "" {
			stateBucket = cfg.Storage.RawBucket
		}
		state, err := objstore.NewGCSStore(ctx, stateBucket)
		if err != nil {
			return nil, nil, nil, err
		}
		return raw, history.NewObjectStore(state, cfg.Storage.StateName, logger), cleanup, nil

	case "postgres":
		objects, err := objstore.NewFSStore(cfg.Storage.LocalDir)
		if err != nil {
			return nil, nil, nil, err
		}
		pool, err := database.NewPostgresConnection(ctx, cfg.Storage.Database, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		store := history.NewPostgresStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return objects, store, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildRunner(ctx context.Context, cfg *config.Config, objects objstore.Store, engine *analytics.Engine, logger *logrus.Logger) (*pipeline.Runner, error) {
	mode, err := ingest.ParseFailureMode(cfg.Provider.FailureMode)
	if err != nil {
		return nil, err
	}

	var provider ingest.MarketProvider
	switch cfg.Provider.Name {
	case "", "coingecko":
		provider = coingecko.NewClient(cfg.Provider, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
	fetcher := ingest.NewBatchFetcher(provider, cfg.Provider, mode, logger)
	normalizer := normalize.New(logger)
	notifier, err := buildNotifier(cfg.Alerts, logger)
	if err != nil {
		return nil, err
	}

	var opts []pipeline.RunnerOption
	if cfg.Redis.Enabled() {
		client, err := database.NewRedisConnection(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		locker := pipeline.NewRedisLocker(client, logger)
		opts = append(opts, pipeline.WithLocker(locker, config.Duration(cfg.Redis.LockTTL, 2*time.Minute)))
	}

	return pipeline.NewRunner(
		fetcher, normalizer, engine,
		objects, cfg.Storage.RawPrefix, cfg.Storage.SilverName,
		notifier, logger, opts...,
	), nil
}

func buildNotifier(cfg config.AlertsConfig, logger *logrus.Logger) (alerts.Notifier, error) {
	var notifiers []alerts.Notifier

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		telegram, err := alerts.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, telegram)
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.WebhookURL, logger))
	}
	return alerts.NewMulti(logger, notifiers...), nil
}

func serve(ctx context.Context, cfg *config.Config, store history.Store, logger *logrus.Logger) error {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.NewSignalsHandler(store, logger))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
