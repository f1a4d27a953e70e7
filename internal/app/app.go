// Package app assembles the long-lived components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/orchestrator"
	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/jobqueue"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/normalizer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/notify"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"

	// Register the sport fetchers via init().
	_ "github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/all"
)

// Backends are the shared cache, lock and queue. With no redis.url they are
// in-process and only reach a worker running in the same process.
type Backends struct {
	Cache  storage.Cache
	Locker storage.Locker
	Queue  jobqueue.Queue
	Redis  *storage.RedisClient
}

func OpenBackends(cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("redis.url not set, using in-memory cache and queue")
		mem := storage.NewMemoryStore()
		return &Backends{Cache: mem, Locker: mem, Queue: jobqueue.NewMemoryQueue(cfg.Worker.QueueSize)}, nil
	}

	rc, err := storage.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	b := &Backends{Cache: rc, Locker: rc, Redis: rc}
	if cfg.Worker.Queue == "redis" {
		b.Queue = jobqueue.NewRedisQueue(rc.Client(), cfg.Worker.QueueKey, cfg.Worker.PollTimeout)
	} else {
		b.Queue = jobqueue.NewMemoryQueue(cfg.Worker.QueueSize)
	}
	logger.Info("Connected to Redis", "queue", cfg.Worker.Queue)
	return b, nil
}

// Shared reports whether another process can see what this one caches.
func (b *Backends) Shared() bool {
	return b.Redis != nil
}

func (b *Backends) Close() error {
	var errs []error
	if b.Queue != nil {
		errs = append(errs, b.Queue.Close())
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	return errors.Join(errs...)
}

// Worker owns the browser sessions and runs queued jobs.
type Worker struct {
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *orchestrator.Scheduler

	dispatcher *jobqueue.Dispatcher
	renderer   *renderer.Renderer
	notifier   notify.Notifier
	warmup     func(ctx context.Context)
	logger     *slog.Logger
}

func NewWorker(cfg *config.Config, tables *config.Tables, b *Backends, m *metrics.Recorder, logger *slog.Logger) (*Worker, error) {
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tn, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram notifier: %w", err)
		}
		notifier = tn
	}

	pool := renderer.NewPool(cfg.Renderer.Sessions, func(context.Context) (renderer.Session, error) {
		s, err := renderer.NewBrowserSession(cfg.Renderer, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, logger)
	r := renderer.New(pool, logger)

	fetchers := parsers.Build(parsers.Deps{
		Page:       r,
		Normalizer: normalizer.New(tables, normalizer.WithLogger(logger)),
		Logger:     logger,
	})
	logger.Info("Using fetchers", "sports", parsers.AvailableNames())

	orch := orchestrator.New(tables, fetchers, b.Cache, b.Locker, orchestrator.Options{
		MatchTTL: cfg.Cache.MatchTTL,
		LockTTL:  cfg.Cache.LockTTL,
		Metrics:  m,
		Notifier: notifier,
		Logger:   logger,
	})
	refresher := cycling.NewRefresher(tables, cycling.NewClient(cfg.Cycling, logger), b.Cache, b.Locker, cycling.RefresherOptions{
		TTL:         cfg.Cache.MatchTTL,
		LockTTL:     cfg.Cache.LockTTL,
		Concurrency: cfg.Cycling.Concurrency,
		Logger:      logger,
	})
	sched := orchestrator.NewScheduler(tables, b.Locker, b.Queue, m, logger)
	disp := jobqueue.NewDispatcher(b.Queue, orch.Handler(b.Locker, refresher),
		cfg.Worker.Concurrency, cfg.Worker.JobTimeout, logger)

	return &Worker{
		Orchestrator: orch,
		Scheduler:    sched,
		dispatcher:   disp,
		renderer:     r,
		notifier:     notifier,
		warmup:       func(ctx context.Context) { sched.Warmup(ctx, cfg.Worker.WarmupInterval) },
		logger:       logger,
	}, nil
}

// Run processes jobs until ctx is done. Warm-up runs alongside when enabled.
func (w *Worker) Run(ctx context.Context) error {
	go w.warmup(ctx)
	return w.dispatcher.Run(ctx)
}

func (w *Worker) Close() {
	if err := w.renderer.Close(); err != nil {
		w.logger.Warn("Failed to close browser sessions", "error", err)
	}
	w.notifier.Close()
}
