// Package notify alerts operators when a source starts failing and when it
// recovers.
package notify

import (
	"context"
	"time"
)

type EventKind int

const (
	EventFailed EventKind = iota
	EventRecovered
)

type Event struct {
	Kind   EventKind
	Source string
	Sport  string
	JobID  string
	Err    string
	At     time.Time
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close()                              {}
