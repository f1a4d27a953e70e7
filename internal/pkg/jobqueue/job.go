// Package jobqueue carries refresh jobs from the serving layer to the
// workers. Delivery is at-least-once: the orchestrator's per-source lock
// absorbs duplicates.
package jobqueue

import (
	"context"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Dequeue and Enqueue after Close.
var ErrQueueClosed = crerr.New("queue closed")

type Kind string

const (
	KindMatches Kind = "matches"
	KindCycling Kind = "cycling"
)

type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	SourceKey  string    `json:"source_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob stamps a job with a fresh id and the current time.
func NewJob(kind Kind, sourceKey string) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		SourceKey:  sourceKey,
		EnqueuedAt: time.Now().UTC(),
	}
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (Job, error)
	// Len reports the number of jobs waiting to be picked up.
	Len(ctx context.Context) (int, error)
	Close() error
}
