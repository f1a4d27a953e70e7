package cycling

import (
	"context"
	"log/slog"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

var (
	ErrUnknownSet   = crerr.New("unknown cycling set")
	ErrInProgress   = crerr.New("refresh in progress")
	ErrNoStartlists = crerr.New("no startlist could be fetched")
)

func CacheKey(set string) string {
	return "cycling_startlist_" + set
}

func LockKey(set string) string {
	return models.LockKey("cycling_" + set)
}

// Sets resolves a set key. *config.Tables implements it.
type Sets interface {
	CyclingSet(key string) ([]models.CyclingRace, bool)
}

type RefresherOptions struct {
	TTL         time.Duration
	LockTTL     time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// Refresher applies the match pipeline's lock and replace rules to cycling
// startlists.
type Refresher struct {
	sets   Sets
	client fetcher
	cache  storage.Cache
	locker storage.Locker
	opts   RefresherOptions
	now    func() time.Time
}

func NewRefresher(sets Sets, client *Client, cache storage.Cache, locker storage.Locker, opts RefresherOptions) *Refresher {
	return newRefresher(sets, client, cache, locker, opts)
}

func newRefresher(sets Sets, client fetcher, cache storage.Cache, locker storage.Locker, opts RefresherOptions) *Refresher {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Refresher{sets: sets, client: client, cache: cache, locker: locker, opts: opts, now: time.Now}
}

// Refresh fetches every race of set and replaces the cached summary. When
// no race could be fetched the cache is left as it was.
func (r *Refresher) Refresh(ctx context.Context, set string) (Summary, error) {
	races, ok := r.sets.CyclingSet(set)
	if !ok {
		return Summary{}, crerr.Wrapf(ErrUnknownSet, "set %q", set)
	}

	lockKey := LockKey(set)
	token := uuid.NewString()
	acquired, err := r.locker.Acquire(ctx, lockKey, token, r.opts.LockTTL)
	if err != nil {
		return Summary{}, crerr.Wrap(err, "acquire lock")
	}
	if !acquired {
		return Summary{}, ErrInProgress
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		switch err := r.locker.Release(uctx, lockKey, token); {
		case crerr.Is(err, storage.ErrLockNotHeld):
			r.opts.Logger.Warn("Cycling lock expired before the refresh finished", "set", set, "lock_ttl", r.opts.LockTTL)
		case err != nil:
			r.opts.Logger.Error("Failed to release cycling lock", "set", set, "error", err)
		}
	}()

	start := r.now()
	raw := FetchAll(ctx, r.client, races, r.opts.Concurrency)
	for _, rs := range raw {
		if rs.Err != nil {
			r.opts.Logger.Warn("Startlist fetch failed", "set", set, "race", rs.Race.ID, "error", rs.Err)
		}
	}

	summary := Process(set, raw)
	if len(summary.Failed) == len(summary.Races) {
		return Summary{}, crerr.Wrapf(ErrNoStartlists, "set %q", set)
	}
	summary.FetchedAt = r.now().UTC()

	if err := storage.SetJSON(ctx, r.cache, CacheKey(set), summary, r.opts.TTL); err != nil {
		return Summary{}, crerr.Wrap(err, "write cache")
	}

	r.opts.Logger.Info("Cycling startlists cached", "set", set, "races", len(summary.Races),
		"failed", len(summary.Failed), "riders", len(summary.Riders), "duration", r.now().Sub(start))
	return summary, nil
}
