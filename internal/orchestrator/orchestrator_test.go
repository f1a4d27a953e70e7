package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/football"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/normalizer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/notify"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var eredivisie = models.SourceDescriptor{
	Key:   "eredivisie",
	Sport: models.SportFootball,
	URL:   "https://www.oddsportal.com/football/netherlands/eredivisie/",
}

type catalog map[string]models.SourceDescriptor

func (c catalog) Source(key string) (models.SourceDescriptor, bool) {
	d, ok := c[key]
	return d, ok
}

// stubFetcher counts calls and returns canned results.
type stubFetcher struct {
	batch      parsers.Batch
	err        error
	panicMsg   string
	records    []models.MatchRecord
	onRender   func()
	renders    int
	normalizes int
}

func (f *stubFetcher) Sport() models.Sport { return models.SportFootball }

func (f *stubFetcher) Render(context.Context, models.SourceDescriptor) (parsers.Batch, error) {
	f.renders++
	if f.onRender != nil {
		f.onRender()
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.batch, f.err
}

func (f *stubFetcher) Normalize(models.SourceDescriptor, parsers.Batch) []models.MatchRecord {
	f.normalizes++
	return f.records
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Close() {}

func sampleRecord(t *testing.T) models.MatchRecord {
	t.Helper()
	rec, err := models.NewMatchRecord(models.RecordSpec{
		Sport:  models.SportFootball,
		Home:   "Ajax",
		Away:   "PSV",
		Odds:   map[models.Role]float64{models.RoleHome: 2.1, models.RoleDraw: 3.4, models.RoleAway: 3.25},
		Points: map[models.Role]float64{models.RoleHome: 20, models.RoleAway: 20},
	})
	require.NoError(t, err)
	return rec
}

type harness struct {
	store    *storage.MemoryStore
	fetcher  *stubFetcher
	notifier *recordingNotifier
	metrics  *metrics.Recorder
	orch     *Orchestrator
}

func newHarness(f *stubFetcher) *harness {
	h := &harness{
		store:    storage.NewMemoryStore(),
		fetcher:  f,
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	h.orch = New(catalog{"eredivisie": eredivisie},
		map[models.Sport]parsers.Fetcher{models.SportFootball: f},
		h.store, h.store,
		Options{Metrics: h.metrics, Notifier: h.notifier, Logger: quiet()})
	return h
}

var cacheKey = models.CacheKey(models.SportFootball, "eredivisie")

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&stubFetcher{records: []models.MatchRecord{sampleRecord(t)}})

	out := h.orch.Run(ctx, "eredivisie")
	require.NoError(t, out.Err)
	assert.Equal(t, StateCached, out.State)
	assert.Equal(t, []State{StateScheduled, StateLocked, StateRendering, StateNormalizing, StateCached}, out.Trace)

	data, ok, err := h.store.Get(ctx, cacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := storage.DecodeRecords(data)
	require.NoError(t, err)
	assert.Equal(t, out.Records, got)

	held, _ := h.store.Held(ctx, models.LockKey("eredivisie"))
	assert.False(t, held, "lock is released after success")

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, notify.EventRecovered, h.notifier.events[0].Kind)
}

func TestRun_LockHeldIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&stubFetcher{records: []models.MatchRecord{sampleRecord(t)}})
	require.NoError(t, h.store.Set(ctx, cacheKey, []byte("stale"), time.Hour))
	ok, _ := h.store.Acquire(ctx, models.LockKey("eredivisie"), "other-worker", time.Minute)
	require.True(t, ok)

	out := h.orch.Run(ctx, "eredivisie")
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, []State{StateScheduled, StateSkipped}, out.Trace)
	assert.NoError(t, out.Err)
	assert.Zero(t, h.fetcher.renders)
	assert.Zero(t, h.fetcher.normalizes)

	data, _, _ := h.store.Get(ctx, cacheKey)
	assert.Equal(t, "stale", string(data))

	held, _ := h.store.Held(ctx, models.LockKey("eredivisie"))
	assert.True(t, held, "a skipped job never touches someone else's lock")
	assert.Empty(t, h.notifier.events)
}

func TestRun_LateReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	lockKey := models.LockKey("eredivisie")
	f := &stubFetcher{records: []models.MatchRecord{sampleRecord(t)}}
	h := newHarness(f)
	f.onRender = func() {
		// The lock expires mid-render and another worker takes it over.
		require.NoError(t, h.store.Delete(ctx, lockKey))
		ok, _ := h.store.Acquire(ctx, lockKey, "other-worker", time.Minute)
		require.True(t, ok)
	}

	out := h.orch.Run(ctx, "eredivisie")
	assert.Equal(t, StateCached, out.State)

	held, _ := h.store.Held(ctx, lockKey)
	assert.True(t, held, "finishing late must not clear the other worker's lock")

	f.onRender = nil
	out = h.orch.Run(ctx, "eredivisie")
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, 1, f.renders)
}

func TestRun_RenderFailureLeavesCache(t *testing.T) {
	for name, prior := range map[string][]byte{"present": []byte("previous"), "absent": nil} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(&stubFetcher{err: crerr.Mark(crerr.New("marker never appeared"), renderer.ErrRenderTimeout)})
			if prior != nil {
				require.NoError(t, h.store.Set(ctx, cacheKey, prior, time.Hour))
			}

			out := h.orch.Run(ctx, "eredivisie")
			assert.Equal(t, StateUnlocked, out.State)
			assert.Equal(t, StateFailed, out.Terminal())
			assert.Equal(t, []State{StateScheduled, StateLocked, StateRendering, StateFailed, StateUnlocked}, out.Trace)
			assert.True(t, crerr.Is(out.Err, renderer.ErrRenderTimeout))
			assert.Zero(t, h.fetcher.normalizes)

			data, ok, _ := h.store.Get(ctx, cacheKey)
			assert.Equal(t, prior != nil, ok)
			assert.Equal(t, prior, data)

			held, _ := h.store.Held(ctx, models.LockKey("eredivisie"))
			assert.False(t, held)

			require.Len(t, h.notifier.events, 1)
			assert.Equal(t, notify.EventFailed, h.notifier.events[0].Kind)
		})
	}
}

func TestRun_PanicIsContained(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&stubFetcher{panicMsg: "nil selection"})

	out := h.orch.Run(ctx, "eredivisie")
	assert.Equal(t, StateFailed, out.Terminal())
	assert.Contains(t, out.Err.Error(), "panic during rendering")
	held, _ := h.store.Held(ctx, models.LockKey("eredivisie"))
	assert.False(t, held)
}

func TestRun_EmptyResultIsNotCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&stubFetcher{batch: parsers.Batch{Entries: []models.RawEntry{{Home: "6-4", Away: "x"}}}})

	out := h.orch.Run(ctx, "eredivisie")
	assert.True(t, crerr.Is(out.Err, ErrNoRecords))
	assert.Equal(t, []State{StateScheduled, StateLocked, StateRendering, StateNormalizing, StateFailed, StateUnlocked}, out.Trace)
	exists, _ := h.store.Exists(ctx, cacheKey)
	assert.False(t, exists)
}

func TestRun_UnknownSource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&stubFetcher{})

	out := h.orch.Run(ctx, "serie_z")
	assert.True(t, crerr.Is(out.Err, ErrUnknownSource))
	assert.Equal(t, []State{StateScheduled, StateFailed}, out.Trace)
	assert.Zero(t, h.fetcher.renders)

	held, _ := h.store.Held(ctx, models.LockKey("serie_z"))
	assert.False(t, held)
}

func TestRun_Metrics(t *testing.T) {
	h := newHarness(&stubFetcher{records: []models.MatchRecord{sampleRecord(t)}})
	h.orch.Run(context.Background(), "eredivisie")

	snap := h.metrics.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "cached", snap[0].LastState)
	assert.Equal(t, 1, snap[0].Records)
}

// fixtureSession serves one static league page.
type fixtureSession struct {
	html string
}

func (s *fixtureSession) Render(context.Context, string, renderer.Rules) (string, error) {
	return s.html, nil
}
func (s *fixtureSession) Ping(context.Context) error { return nil }
func (s *fixtureSession) Close() error               { return nil }

// The listing shows Ajax - PSV twice (featured block and day list) and one
// suspended fixture whose odds read 1.00.
const fixturePage = `<html><body><div data-v-b8d70024>
  <div class="eventRow" id="featured-1">
    <div class="text-black-main font-main">Today, 01 Mar</div>
    <a title="Ajax">Ajax</a><a title="PSV">PSV</a>
    <div data-v-34474325><p>2.10</p><p>3.40</p><p>3.25</p></div>
  </div>
  <div class="eventRow" id="x7Gh2">
    <a title="Ajax">Ajax</a><a title="PSV">PSV</a>
    <div data-v-34474325><p>2.10</p><p>3.40</p><p>3.25</p></div>
  </div>
  <div class="eventRow" id="k9Lm4">
    <a title="Utrecht">Utrecht</a><a title="Twente">Twente</a>
    <div data-v-34474325><p>1.00</p><p>3.30</p><p>2.55</p></div>
  </div>
</div></body></html>`

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	pool := renderer.NewPool(1, func(context.Context) (renderer.Session, error) {
		return &fixtureSession{html: fixturePage}, nil
	}, quiet())
	r := renderer.New(pool, quiet())
	defer r.Close()

	tables := &config.Tables{Ratings: config.RatingTable{Football: config.SportRatings{
		Categories: map[string]string{"Ajax": "A", "PSV": "A"},
		Points:     map[string]float64{"A": 20, "B": 40, "C": 60, "D": 90},
	}}}
	norm := normalizer.New(tables,
		normalizer.WithClock(func() time.Time { return time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC) }),
		normalizer.WithLogger(quiet()))
	fetcher := football.New(parsers.Deps{Page: r, Normalizer: norm, Logger: quiet()})

	store := storage.NewMemoryStore()
	orch := New(catalog{"eredivisie": eredivisie},
		map[models.Sport]parsers.Fetcher{models.SportFootball: fetcher},
		store, store, Options{Logger: quiet()})

	out := orch.Run(ctx, "eredivisie")
	require.NoError(t, out.Err)
	require.Equal(t, StateCached, out.State)

	data, ok, err := store.Get(ctx, cacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	records, err := storage.DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Ajax", rec.Home)
	assert.Equal(t, "PSV", rec.Away)
	assert.Equal(t, "01-03-2025", rec.Date)
	assert.Equal(t, 9.52, rec.ExpectedPoints[models.RoleHome])
	assert.Equal(t, 6.15, rec.ExpectedPoints[models.RoleAway])
}
