package renderer

import (
	"context"
	"log/slog"
	"sync"

	crerr "github.com/cockroachdb/errors"
)

var ErrPoolClosed = crerr.New("renderer: session pool closed")

// SessionFactory starts a new browser session.
type SessionFactory func(ctx context.Context) (Session, error)

// Pool hands out sessions exclusively. Sessions are created lazily, reused
// while healthy and replaced once broken.
type Pool struct {
	factory SessionFactory
	logger  *slog.Logger
	slots   chan struct{}

	mu     sync.Mutex
	idle   []Session
	closed bool
}

func NewPool(size int, factory SessionFactory, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		factory: factory,
		logger:  logger,
		slots:   make(chan struct{}, size),
	}
}

// Acquire blocks until a slot frees up or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.factory(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return s, nil
}

// Release returns s to the pool. When the render that used s failed, the
// session is probed and torn down if the browser no longer answers.
func (p *Pool) Release(ctx context.Context, s Session, renderErr error) {
	defer func() { <-p.slots }()

	if renderErr != nil {
		if err := s.Ping(ctx); err != nil {
			p.logger.Warn("Discarding broken browser session", "error", err)
			_ = s.Close()
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = s.Close()
		return
	}
	p.idle = append(p.idle, s)
}

// Close tears down idle sessions. Sessions still in use are closed when
// they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for _, s := range p.idle {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle = nil
	return crerr.Join(errs...)
}
