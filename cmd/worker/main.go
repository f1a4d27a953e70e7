package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JanSparnaaij/ScoritoOdds/internal/api"
	"github.com/JanSparnaaij/ScoritoOdds/internal/app"
	pkgconfig "github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/logging"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
)

const defaultConfigPath = "configs/config.yaml"

type config struct {
	configPath string
	runFor     time.Duration
	warmup     time.Duration
}

func main() {
	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	appConfig, err := pkgconfig.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.SetupLogger(&appConfig.Logging, "worker")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if cfg.warmup > 0 {
		appConfig.Worker.WarmupInterval = cfg.warmup
	}

	tables, err := pkgconfig.LoadTables(appConfig.Tables)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	backends, err := app.OpenBackends(appConfig, logger)
	if err != nil {
		return err
	}
	defer backends.Close()
	if !backends.Shared() || appConfig.Worker.Queue != "redis" {
		logger.Warn("Standalone worker without redis cache and queue only serves its own warm-up")
	}

	m := metrics.New()
	w, err := app.NewWorker(appConfig, tables, backends, m, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := createContext(cfg.runFor)
	defer cancel()
	setupSignalHandler(ctx, cancel)

	go serveMetrics(ctx, appConfig, m, logger)

	logger.Info("Worker started",
		"concurrency", appConfig.Worker.Concurrency,
		"sessions", appConfig.Renderer.Sessions,
		"queue", appConfig.Worker.Queue)
	if err := w.Run(ctx); err != nil {
		return err
	}
	logger.Info("Worker stopped gracefully")
	return nil
}

func serveMetrics(ctx context.Context, appConfig *pkgconfig.Config, m *metrics.Recorder, logger *slog.Logger) {
	if appConfig.Worker.MetricsAddr == "" {
		return
	}
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	httpCfg := appConfig.HTTP
	httpCfg.Addr = appConfig.Worker.MetricsAddr
	if err := api.Run(ctx, httpCfg, r, logger); err != nil {
		logger.Error("Metrics server error", "error", err)
	}
}

func parseFlags() config {
	var cfg config

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	flag.StringVar(&cfg.configPath, "config", defaultConfig, "Path to config file (can be set via CONFIG_PATH env var)")
	flag.DurationVar(&cfg.runFor, "run-for", 0, "Auto-stop after duration (e.g. 10s, 1m). 0 = run until SIGINT/SIGTERM")
	flag.DurationVar(&cfg.warmup, "warmup", 0, "Override worker.warmup_interval (e.g. 30m)")
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
			slog.Info("Received shutdown signal, stopping worker...", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}
