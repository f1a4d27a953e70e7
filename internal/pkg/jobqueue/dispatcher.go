package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Handler processes one job. It must honour ctx.
type Handler func(ctx context.Context, job Job)

// Dispatcher pulls jobs off a queue and runs them on a bounded worker pool.
type Dispatcher struct {
	queue      Queue
	handler    Handler
	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger
}

func NewDispatcher(queue Queue, handler Handler, workers int, jobTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:      queue,
		handler:    handler,
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Run blocks until ctx is done or the queue is closed, then waits for
// in-flight jobs. Jobs already started keep their own deadline so their
// locks are released cleanly on shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	pool, err := ants.NewPool(d.workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	d.logger.Info("dispatcher started", "workers", d.workers)

	var inflight sync.WaitGroup
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				break
			}
			d.logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		inflight.Add(1)
		if err := pool.Submit(func() {
			defer inflight.Done()
			d.handle(ctx, job)
		}); err != nil {
			inflight.Done()
			d.logger.Error("failed to submit job", "job_id", job.ID, "source", job.SourceKey, "error", err)
		}
	}

	inflight.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) handle(parent context.Context, job Job) {
	ctx := context.WithoutCancel(parent)
	if d.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "job_id", job.ID, "source", job.SourceKey, "panic", r)
		}
	}()

	d.logger.Debug("job started", "job_id", job.ID, "kind", job.Kind, "source", job.SourceKey,
		"queued_for", time.Since(job.EnqueuedAt))
	d.handler(ctx, job)
}
