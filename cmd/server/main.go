package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JanSparnaaij/ScoritoOdds/internal/accounts"
	"github.com/JanSparnaaij/ScoritoOdds/internal/api"
	"github.com/JanSparnaaij/ScoritoOdds/internal/app"
	"github.com/JanSparnaaij/ScoritoOdds/internal/orchestrator"
	pkgconfig "github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/logging"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
)

const defaultConfigPath = "configs/config.yaml"

type config struct {
	configPath string
	runFor     time.Duration
	worker     string // auto, on or off
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	appConfig, err := pkgconfig.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.SetupLogger(&appConfig.Logging, "server")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger.Info("Config loaded", "path", cfg.configPath)

	tables, err := pkgconfig.LoadTables(appConfig.Tables)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	backends, err := app.OpenBackends(appConfig, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	var checks []api.Check
	if backends.Redis != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: backends.Redis.Ping})
	}

	var store accounts.Store
	if appConfig.Postgres.DSN != "" {
		pg, err := accounts.OpenPostgres(appConfig.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		checks = append(checks, api.Check{Name: "postgres", Ping: pg.Ping})
		logger.Info("Connected to Postgres")
	} else {
		logger.Warn("postgres.dsn not set, accounts are kept in memory")
		store = accounts.NewMemoryStore()
	}

	ctx, cancel := createContext(cfg.runFor)
	defer cancel()
	setupSignalHandler(ctx, cancel)

	m := metrics.New()
	var refresher api.Refresher = orchestrator.NewScheduler(tables, backends.Locker, backends.Queue, m, logger)

	embedded := cfg.worker == "on" || (cfg.worker == "auto" && !backends.Shared())
	workerDone := make(chan error, 1)
	if embedded {
		w, err := app.NewWorker(appConfig, tables, backends, m, logger)
		if err != nil {
			return err
		}
		defer w.Close()
		refresher = w.Scheduler
		logger.Info("Running embedded worker", "concurrency", appConfig.Worker.Concurrency)
		go func() { workerDone <- w.Run(ctx) }()
	} else {
		if appConfig.Worker.Queue == "memory" {
			logger.Warn("worker.queue=memory without an embedded worker, refreshes will not run")
		}
		close(workerDone)
	}

	router := api.NewRouter(appConfig.HTTP, api.Deps{
		Catalog:   tables,
		Cache:     backends.Cache,
		Refresher: refresher,
		Accounts:  accounts.NewService(store),
		Sessions:  accounts.NewSessions(backends.Cache, appConfig.Cache.SessionTTL),
		Metrics:   m,
		Checks:    checks,
		Logger:    logger,
	})

	serveErr := api.Run(ctx, appConfig.HTTP, router, logger)
	cancel()
	if err := <-workerDone; err != nil {
		logger.Error("Embedded worker stopped with error", "error", err)
	}
	if serveErr != nil {
		return serveErr
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func parseFlags() config {
	var cfg config

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file (can be set via CONFIG_PATH env var)")
	flag.DurationVar(&cfg.runFor, "run-for", 0, "Auto-stop after duration (e.g. 10s, 1m). 0 = run until SIGINT/SIGTERM")
	flag.StringVar(&cfg.worker, "worker", "auto", "Run a worker in this process: auto (only without redis), on or off")
	flag.Parse()
	return cfg
}

func createContext(runFor time.Duration) (context.Context, context.CancelFunc) {
	if runFor > 0 {
		return context.WithTimeout(context.Background(), runFor)
	}
	return context.WithCancel(context.Background())
}

func setupSignalHandler(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal, stopping server...", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}
