package storage

import (
	"context"
	"time"

	crerr "github.com/cockroachdb/errors"
)

// ErrLockNotHeld is returned by Release when the lock expired or now
// belongs to another holder.
var ErrLockNotHeld = crerr.New("lock not held")

// Cache is the shared key/value store between the pipeline and the serving
// layer. Every write is a single atomic replace.
type Cache interface {
	// Get returns the stored bytes; ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set replaces the value under key and resets its TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)
}

// Locker guards a source against concurrent fetches. Locks expire on their
// own so a crashed worker cannot strand one. Each lock stores its holder's
// token and only that holder can release it.
type Locker interface {
	// Acquire sets the lock to token if nobody holds it. acquired is false
	// when it is already held.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (acquired bool, err error)

	// Release clears the lock if it still stores token, else ErrLockNotHeld.
	Release(ctx context.Context, key, token string) error

	// Held reports whether the lock is currently set.
	Held(ctx context.Context, key string) (bool, error)
}
