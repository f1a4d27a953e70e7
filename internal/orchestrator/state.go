package orchestrator

import (
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

var (
	// ErrUnknownSource is fatal for the job and never retried.
	ErrUnknownSource = crerr.New("unknown source")
	// ErrNoRecords means the page rendered but nothing survived normalization.
	ErrNoRecords = crerr.New("no valid records")
)

type State string

const (
	StateScheduled   State = "scheduled"
	StateLocked      State = "locked"
	StateRendering   State = "rendering"
	StateNormalizing State = "normalizing"
	StateCached      State = "cached"
	StateFailed      State = "failed"
	StateUnlocked    State = "unlocked"
	StateSkipped     State = "skipped"
)

// Outcome is the result of one fetch job. Trace lists every state the job
// passed through, in order.
type Outcome struct {
	JobID     string
	SourceKey string
	Sport     models.Sport
	State     State
	Trace     []State
	Records   []models.MatchRecord
	Err       error
	Duration  time.Duration
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o *Outcome) fail(err error) {
	o.Err = err
	o.advance(StateFailed)
}

// Terminal is the last meaningful state: cached, skipped or failed.
func (o Outcome) Terminal() State {
	if o.State == StateUnlocked {
		return StateFailed
	}
	return o.State
}
