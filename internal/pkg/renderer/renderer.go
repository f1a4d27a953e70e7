package renderer

import (
	"context"
	"log/slog"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// Renderer pairs a session pool with markup extraction. It is the only
// component that touches a browser.
type Renderer struct {
	pool   *Pool
	logger *slog.Logger
}

func New(pool *Pool, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{pool: pool, logger: logger}
}

// HTML renders url on a pooled session.
func (r *Renderer) HTML(ctx context.Context, url string, rules Rules) (string, error) {
	s, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", crerr.Mark(crerr.Wrap(err, "acquire browser session"), ErrRender)
	}
	start := time.Now()
	html, err := s.Render(ctx, url, rules)
	r.pool.Release(ctx, s, err)
	if err != nil {
		return "", err
	}
	r.logger.Debug("Page rendered", "url", url, "bytes", len(html), "duration", time.Since(start))
	return html, nil
}

// Fetch renders url and extracts its match rows. A page that rendered but
// yields no rows is a render error, not an empty result.
func (r *Renderer) Fetch(ctx context.Context, url string, rules Rules) ([]models.RawEntry, error) {
	html, err := r.HTML(ctx, url, rules)
	if err != nil {
		return nil, err
	}
	entries, err := Extract(html, rules)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, crerr.Mark(crerr.Newf("no rows matched %q at %s", rules.RowSelector, url), ErrRender)
	}
	return entries, nil
}

// FetchRounds renders a standings page and extracts its rounds.
func (r *Renderer) FetchRounds(ctx context.Context, url string, rules RoundRules) ([]models.RoundEntry, error) {
	html, err := r.HTML(ctx, url, rules.pageRules())
	if err != nil {
		return nil, err
	}
	return ExtractRounds(html, rules)
}

// Close tears down the pooled sessions.
func (r *Renderer) Close() error {
	return r.pool.Close()
}
