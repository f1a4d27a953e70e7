package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Hour)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires exactly at its TTL")

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_SetReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, s.Set(ctx, "k", []byte("new"), 0))
	got, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "new", string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_Lock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	ok, err := s.Acquire(ctx, "lock", "job-a", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Acquire(ctx, "lock", "job-b", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	held, err := s.Held(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, held)

	// A crashed holder never releases; expiry frees the lock.
	now = now.Add(5 * time.Minute)
	ok, err = s.Acquire(ctx, "lock", "job-b", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Release(ctx, "lock", "job-b"))
	held, _ = s.Held(ctx, "lock")
	assert.False(t, held)
}

func TestMemoryStore_ReleaseChecksOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	ok, _ := s.Acquire(ctx, "lock", "job-a", time.Minute)
	require.True(t, ok)

	// job-a overruns its TTL and job-b takes the lock over.
	now = now.Add(time.Minute)
	ok, _ = s.Acquire(ctx, "lock", "job-b", time.Minute)
	require.True(t, ok)

	err := s.Release(ctx, "lock", "job-a")
	assert.ErrorIs(t, err, ErrLockNotHeld)
	held, _ := s.Held(ctx, "lock")
	assert.True(t, held, "a late release must not clear the new holder's lock")

	ok, _ = s.Acquire(ctx, "lock", "job-c", time.Minute)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "lock", "job-b"))
	assert.ErrorIs(t, s.Release(ctx, "lock", "job-b"), ErrLockNotHeld)
}

func TestMemoryStore_LockIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Acquire(context.Background(), "lock", "worker", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRecordsCodec_Deterministic(t *testing.T) {
	rec, err := models.NewMatchRecord(models.RecordSpec{
		Sport:  models.SportFootball,
		Date:   "01-03-2025",
		Home:   "Ajax",
		Away:   "PSV",
		Odds:   map[models.Role]float64{models.RoleHome: 2.1, models.RoleDraw: 3.4, models.RoleAway: 3.25},
		Rating: map[models.Role]models.Category{models.RoleHome: models.CategoryA, models.RoleAway: models.CategoryA},
		Points: map[models.Role]float64{models.RoleHome: 20, models.RoleAway: 20},
	})
	require.NoError(t, err)

	a, err := EncodeRecords([]models.MatchRecord{rec})
	require.NoError(t, err)
	b, err := EncodeRecords([]models.MatchRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"odds":{"away":3.25,"draw":3.4,"home":2.1}`)

	back, err := DecodeRecords(a)
	require.NoError(t, err)
	assert.Equal(t, []models.MatchRecord{rec}, back)

	empty, err := EncodeRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}
