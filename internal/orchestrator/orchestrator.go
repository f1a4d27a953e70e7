// Package orchestrator runs one fetch cycle per job: lock the source, render
// it, normalize the rows and replace the cached record list.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/notify"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

const unlockTimeout = 5 * time.Second

// Sources resolves a source key. *config.Tables implements it.
type Sources interface {
	Source(key string) (models.SourceDescriptor, bool)
}

type Options struct {
	MatchTTL time.Duration
	LockTTL  time.Duration
	Metrics  *metrics.Recorder
	Notifier notify.Notifier
	Logger   *slog.Logger
}

type Orchestrator struct {
	sources  Sources
	fetchers map[models.Sport]parsers.Fetcher
	cache    storage.Cache
	locker   storage.Locker

	matchTTL time.Duration
	lockTTL  time.Duration
	metrics  *metrics.Recorder
	notifier notify.Notifier
	logger   *slog.Logger
}

func New(sources Sources, fetchers map[models.Sport]parsers.Fetcher, cache storage.Cache, locker storage.Locker, opts Options) *Orchestrator {
	if opts.MatchTTL <= 0 {
		opts.MatchTTL = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		sources:  sources,
		fetchers: fetchers,
		cache:    cache,
		locker:   locker,
		matchTTL: opts.MatchTTL,
		lockTTL:  opts.LockTTL,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// Run performs one fetch cycle for sourceKey.
func (o *Orchestrator) Run(ctx context.Context, sourceKey string) Outcome {
	return o.run(ctx, "", sourceKey)
}

func (o *Orchestrator) run(ctx context.Context, jobID, sourceKey string) (out Outcome) {
	start := time.Now()
	out = Outcome{JobID: jobID, SourceKey: sourceKey}
	out.advance(StateScheduled)

	logger := o.logger.With("source_key", sourceKey)
	if jobID != "" {
		logger = logger.With("job_id", jobID)
	}

	defer func() {
		out.Duration = time.Since(start)
		o.report(ctx, logger, out)
	}()

	desc, ok := o.sources.Source(sourceKey)
	if !ok {
		out.fail(crerr.Wrapf(ErrUnknownSource, "source %q", sourceKey))
		return out
	}
	out.Sport = desc.Sport
	logger = logger.With("sport", desc.Sport)

	fetcher, ok := o.fetchers[desc.Sport]
	if !ok {
		out.fail(crerr.Wrapf(ErrUnknownSource, "no fetcher for sport %q", desc.Sport))
		return out
	}

	lockKey := models.LockKey(sourceKey)
	token := uuid.NewString()
	acquired, err := o.locker.Acquire(ctx, lockKey, token, o.lockTTL)
	if err != nil {
		out.fail(fmt.Errorf("acquire lock: %w", err))
		return out
	}
	if !acquired {
		out.advance(StateSkipped)
		return out
	}
	out.advance(StateLocked)

	defer func() {
		// The job ctx may already be done; the lock must still go.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		switch err := o.locker.Release(uctx, lockKey, token); {
		case crerr.Is(err, storage.ErrLockNotHeld):
			logger.Warn("Fetch lock expired before the job finished", "lock_ttl", o.lockTTL)
		case err != nil:
			logger.Error("Failed to release fetch lock, it will expire on its own", "lock_ttl", o.lockTTL, "error", err)
		}
		if out.State == StateFailed {
			out.advance(StateUnlocked)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			out.Records = nil
			out.fail(crerr.Newf("panic during %s: %v", out.State, r))
		}
	}()

	out.advance(StateRendering)
	stageStart := time.Now()
	batch, err := fetcher.Render(ctx, desc)
	o.observeStage(desc.Sport, metrics.StageRender, stageStart)
	if err != nil {
		out.fail(err)
		return out
	}

	out.advance(StateNormalizing)
	stageStart = time.Now()
	records := fetcher.Normalize(desc, batch)
	o.observeStage(desc.Sport, metrics.StageNormalize, stageStart)
	if len(records) == 0 {
		out.fail(crerr.Wrapf(ErrNoRecords, "%d raw rows", len(batch.Entries)))
		return out
	}

	data, err := storage.EncodeRecords(records)
	if err != nil {
		out.fail(err)
		return out
	}
	stageStart = time.Now()
	if err := o.cache.Set(ctx, models.CacheKey(desc.Sport, sourceKey), data, o.matchTTL); err != nil {
		out.fail(fmt.Errorf("write cache: %w", err))
		return out
	}
	o.observeStage(desc.Sport, metrics.StageStore, stageStart)

	out.Records = records
	out.advance(StateCached)
	return out
}

func (o *Orchestrator) observeStage(sport models.Sport, stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(string(sport), stage, time.Since(start))
	}
}

func (o *Orchestrator) report(ctx context.Context, logger *slog.Logger, out Outcome) {
	terminal := out.Terminal()
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}

	switch terminal {
	case StateCached:
		logger.Info("Fetch cached", "records", len(out.Records), "duration", out.Duration)
	case StateSkipped:
		logger.Info("Fetch skipped, source is locked by another worker")
	default:
		logger.Error("Fetch failed, cache left untouched", "stage", failedStage(out.Trace), "error", out.Err, "duration", out.Duration)
	}

	if o.metrics != nil {
		o.metrics.ObserveOutcome(string(out.Sport), out.SourceKey, string(terminal), len(out.Records), errMsg, out.Duration)
	}

	ev := notify.Event{Source: out.SourceKey, Sport: string(out.Sport), JobID: out.JobID, Err: errMsg, At: time.Now()}
	switch terminal {
	case StateFailed:
		ev.Kind = notify.EventFailed
	case StateCached:
		ev.Kind = notify.EventRecovered
	default:
		return
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("Failed to queue notification", "error", err)
	}
}

// failedStage is the state the job was in when it failed.
func failedStage(trace []State) State {
	for i, s := range trace {
		if s == StateFailed && i > 0 {
			return trace[i-1]
		}
	}
	return StateScheduled
}
