package orchestrator

import (
	"context"
	"errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/jobqueue"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

// CyclingRefresher is implemented by *cycling.Refresher.
type CyclingRefresher interface {
	Refresh(ctx context.Context, set string) (cycling.Summary, error)
}

// Handler routes queued jobs. The pending marker set by the scheduler is
// cleared once a worker has picked the job up.
func (o *Orchestrator) Handler(locker storage.Locker, cyc CyclingRefresher) jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) {
		switch job.Kind {
		case jobqueue.KindMatches:
			o.clearPending(ctx, locker, job, models.LockKey(job.SourceKey))
			o.run(ctx, job.ID, job.SourceKey)
		case jobqueue.KindCycling:
			o.clearPending(ctx, locker, job, cycling.LockKey(job.SourceKey))
			if cyc == nil {
				o.logger.Warn("Cycling job dropped, no refresher configured", "job_id", job.ID, "set", job.SourceKey)
				return
			}
			if _, err := cyc.Refresh(ctx, job.SourceKey); err != nil {
				if errors.Is(err, cycling.ErrInProgress) {
					o.logger.Info("Cycling refresh skipped, set is locked", "job_id", job.ID, "set", job.SourceKey)
					return
				}
				o.logger.Error("Cycling refresh failed", "job_id", job.ID, "set", job.SourceKey, "error", err)
			}
		default:
			o.logger.Error("Unknown job kind", "job_id", job.ID, "kind", job.Kind)
		}
	}
}

// clearPending drops the job's pending marker. A marker that already expired
// is not an error.
func (o *Orchestrator) clearPending(ctx context.Context, locker storage.Locker, job jobqueue.Job, lockKey string) {
	err := locker.Release(ctx, pendingKey(lockKey), job.ID)
	if err != nil && !errors.Is(err, storage.ErrLockNotHeld) {
		o.logger.Warn("Failed to clear pending marker", "job_id", job.ID, "key", job.SourceKey, "error", err)
	}
}
