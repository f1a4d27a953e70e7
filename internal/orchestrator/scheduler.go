package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/jobqueue"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

type TriggerResult string

const (
	TriggerEnqueued   TriggerResult = "enqueued"
	TriggerInProgress TriggerResult = "in_progress"
)

const defaultPendingTTL = 30 * time.Second

// Catalog lists what can be refreshed. *config.Tables implements it.
type Catalog interface {
	Source(key string) (models.SourceDescriptor, bool)
	CyclingSet(key string) ([]models.CyclingRace, bool)
	SourceKeys() []string
	CyclingSetKeys() []string
}

// Scheduler is the enqueue side used by the serving layer: it turns a cache
// miss into at most one queued job per source.
type Scheduler struct {
	catalog    Catalog
	locker     storage.Locker
	queue      jobqueue.Queue
	pendingTTL time.Duration
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

func NewScheduler(catalog Catalog, locker storage.Locker, queue jobqueue.Queue, m *metrics.Recorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		catalog:    catalog,
		locker:     locker,
		queue:      queue,
		pendingTTL: defaultPendingTTL,
		metrics:    m,
		logger:     logger,
	}
}

// Trigger enqueues a match refresh for sourceKey unless one is already
// running or was queued moments ago.
func (s *Scheduler) Trigger(ctx context.Context, sourceKey string) (TriggerResult, error) {
	if _, ok := s.catalog.Source(sourceKey); !ok {
		return "", crerr.Wrapf(ErrUnknownSource, "source %q", sourceKey)
	}
	return s.trigger(ctx, jobqueue.KindMatches, sourceKey, models.LockKey(sourceKey))
}

func (s *Scheduler) TriggerCycling(ctx context.Context, set string) (TriggerResult, error) {
	if _, ok := s.catalog.CyclingSet(set); !ok {
		return "", crerr.Wrapf(cycling.ErrUnknownSet, "set %q", set)
	}
	return s.trigger(ctx, jobqueue.KindCycling, set, cycling.LockKey(set))
}

func (s *Scheduler) trigger(ctx context.Context, kind jobqueue.Kind, key, lockKey string) (TriggerResult, error) {
	held, err := s.locker.Held(ctx, lockKey)
	if err != nil {
		return "", fmt.Errorf("check lock: %w", err)
	}
	if held {
		s.observe(key, TriggerInProgress)
		return TriggerInProgress, nil
	}

	// A short pending marker collapses a burst of misses into one job. It
	// is owned by the job, which clears it once a worker picks it up.
	job := jobqueue.NewJob(kind, key)
	pending, err := s.locker.Acquire(ctx, pendingKey(lockKey), job.ID, s.pendingTTL)
	if err != nil {
		return "", fmt.Errorf("mark pending: %w", err)
	}
	if !pending {
		s.observe(key, TriggerInProgress)
		return TriggerInProgress, nil
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), pendingKey(lockKey), job.ID); rerr != nil {
			s.logger.Warn("Failed to clear pending marker", "key", key, "job_id", job.ID, "error", rerr)
		}
		return "", fmt.Errorf("enqueue %s: %w", key, err)
	}
	s.logger.Info("Refresh enqueued", "kind", kind, "key", key, "job_id", job.ID)
	s.observe(key, TriggerEnqueued)
	s.observeDepth(ctx)
	return TriggerEnqueued, nil
}

// InProgress reports whether a refresh of sourceKey is running or queued.
func (s *Scheduler) InProgress(ctx context.Context, sourceKey string) (bool, error) {
	return s.inProgress(ctx, models.LockKey(sourceKey))
}

func (s *Scheduler) CyclingInProgress(ctx context.Context, set string) (bool, error) {
	return s.inProgress(ctx, cycling.LockKey(set))
}

func (s *Scheduler) inProgress(ctx context.Context, lockKey string) (bool, error) {
	for _, k := range []string{lockKey, pendingKey(lockKey)} {
		held, err := s.locker.Held(ctx, k)
		if err != nil {
			return false, fmt.Errorf("check lock: %w", err)
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) observeDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.queue.Len(ctx)
	if err != nil {
		s.logger.Warn("Failed to read queue depth", "error", err)
		return
	}
	s.metrics.SetQueueDepth(n)
}

func (s *Scheduler) observe(key string, r TriggerResult) {
	if s.metrics != nil {
		s.metrics.ObserveTrigger(key, string(r))
	}
}

// Warmup enqueues every source and cycling set immediately and then once per
// interval until ctx is done. interval <= 0 disables it.
func (s *Scheduler) Warmup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info("Starting periodic warm-up", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := 0
	for {
		cycle++
		s.warm(ctx, cycle)
		select {
		case <-ctx.Done():
			s.logger.Info("Periodic warm-up stopped", "total_cycles", cycle)
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) warm(ctx context.Context, cycle int) {
	enqueued := 0
	for _, key := range s.catalog.SourceKeys() {
		if r, err := s.Trigger(ctx, key); err != nil {
			s.logger.Warn("Warm-up trigger failed", "source_key", key, "error", err)
		} else if r == TriggerEnqueued {
			enqueued++
		}
	}
	for _, set := range s.catalog.CyclingSetKeys() {
		if r, err := s.TriggerCycling(ctx, set); err != nil {
			s.logger.Warn("Warm-up trigger failed", "set", set, "error", err)
		} else if r == TriggerEnqueued {
			enqueued++
		}
	}
	s.logger.Info("Warm-up cycle", "cycle", cycle, "enqueued", enqueued)
}

func pendingKey(lockKey string) string {
	return lockKey + "_pending"
}
