package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JanSparnaaij/ScoritoOdds/internal/accounts"
	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/orchestrator"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

type fakeCatalog struct {
	sources []models.SourceDescriptor
	sets    map[string][]models.CyclingRace
}

func (c fakeCatalog) Source(key string) (models.SourceDescriptor, bool) {
	for _, s := range c.sources {
		if s.Key == key {
			return s, true
		}
	}
	return models.SourceDescriptor{}, false
}

func (c fakeCatalog) SourcesFor(sport models.Sport) []models.SourceDescriptor {
	var out []models.SourceDescriptor
	for _, s := range c.sources {
		if s.Sport == sport {
			out = append(out, s)
		}
	}
	return out
}

func (c fakeCatalog) DefaultSource(sport models.Sport) (models.SourceDescriptor, bool) {
	for _, s := range c.SourcesFor(sport) {
		if s.Default {
			return s, true
		}
	}
	return models.SourceDescriptor{}, false
}

func (c fakeCatalog) CyclingSet(key string) ([]models.CyclingRace, bool) {
	r, ok := c.sets[key]
	return r, ok
}

func (c fakeCatalog) CyclingSetKeys() []string { return []string{"opening_weekend"} }

type fakeRefresher struct {
	mu        sync.Mutex
	matches   []string
	cycling   []string
	result    orchestrator.TriggerResult
	failWith  error
	busy      map[string]bool
	statusErr error
}

func (f *fakeRefresher) Trigger(_ context.Context, key string) (orchestrator.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, key)
	return f.result, f.failWith
}

func (f *fakeRefresher) TriggerCycling(_ context.Context, set string) (orchestrator.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycling = append(f.cycling, set)
	return f.result, f.failWith
}

func (f *fakeRefresher) InProgress(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[key], f.statusErr
}

func (f *fakeRefresher) CyclingInProgress(_ context.Context, set string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[set], f.statusErr
}

func (f *fakeRefresher) setBusy(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy == nil {
		f.busy = make(map[string]bool)
	}
	f.busy[key] = true
}

type testEnv struct {
	handler   http.Handler
	cache     *storage.MemoryStore
	refresher *fakeRefresher
	cookie    *http.Cookie
}

func newEnv(t *testing.T, checks ...Check) *testEnv {
	t.Helper()
	cache := storage.NewMemoryStore()
	ref := &fakeRefresher{result: orchestrator.TriggerEnqueued}
	catalog := fakeCatalog{
		sources: []models.SourceDescriptor{
			{Key: "eredivisie", Name: "Eredivisie", Sport: models.SportFootball, Default: true},
			{Key: "premier_league", Name: "Premier League", Sport: models.SportFootball},
			{Key: "atp_australian_open", Name: "ATP Australian Open", Sport: models.SportTennis, Default: true},
		},
		sets: map[string][]models.CyclingRace{"opening_weekend": {{ID: "omloop", Name: "Omloop"}}},
	}
	h := NewRouter(config.HTTPConfig{RequestTimeout: 5 * time.Second}, Deps{
		Catalog:   catalog,
		Cache:     cache,
		Refresher: ref,
		Accounts:  accounts.NewService(accounts.NewMemoryStore()),
		Sessions:  accounts.NewSessions(cache, time.Hour),
		Metrics:   metrics.New(),
		Checks:    checks,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{handler: h, cache: cache, refresher: ref}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	creds := `{"username":"jan_s","password":"correct-horse"}`
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/auth/signup", creds).Code)

	rec := e.do(t, http.MethodPost, "/auth/login", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			e.cookie = c
		}
	}
	require.NotNil(t, e.cookie, "login must set the session cookie")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func tennisRecord(t *testing.T, home, away string, homeCat, awayCat models.Category, homeOdds, awayOdds float64) models.MatchRecord {
	t.Helper()
	rec, err := models.NewMatchRecord(models.RecordSpec{
		Sport:  models.SportTennis,
		Home:   home,
		Away:   away,
		Odds:   map[models.Role]float64{models.RoleHome: homeOdds, models.RoleAway: awayOdds},
		Rating: map[models.Role]models.Category{models.RoleHome: homeCat, models.RoleAway: awayCat},
		Points: map[models.Role]float64{models.RoleHome: 100, models.RoleAway: 100},
	})
	require.NoError(t, err)
	return rec
}

func TestPing(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong\n", rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newEnv(t, Check{Name: "redis", Ping: func(context.Context) error { return nil }})
	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[healthResponse](t, rec).Status)

	env = newEnv(t, Check{Name: "postgres", Ping: func(context.Context) error { return errors.New("down") }})
	rec = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	got := decode[healthResponse](t, rec)
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "unhealthy", got.Checks["postgres"])
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/football/matches", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.cookie = &http.Cookie{Name: sessionCookie, Value: "6f1c1f0e-5b8a-4a43-9d55-8c1c8d0e2b11"}
	rec = env.do(t, http.MethodGet, "/api/football/matches", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/signup", `{"username":"ab","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.login(t)

	rec = env.do(t, http.MethodPost, "/auth/signup", `{"username":"jan_s","password":"another-pass"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jan_s", decode[accounts.Session](t, rec).Username)

	rec = env.do(t, http.MethodPost, "/auth/login", `{"username":"jan_s","password":"wrong-horse"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMatches_MissTriggersRefresh(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodGet, "/api/football/matches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[matchesResponse](t, rec)
	assert.True(t, got.Refreshing)
	assert.Equal(t, noticeRefreshing, got.Notice)
	assert.Equal(t, "eredivisie", got.League.Key)
	assert.Empty(t, got.Matches)
	assert.Equal(t, []string{"eredivisie"}, env.refresher.matches)

	env.refresher.result = orchestrator.TriggerInProgress
	rec = env.do(t, http.MethodGet, "/api/football/matches?league=premier_league", "")
	got = decode[matchesResponse](t, rec)
	assert.Equal(t, noticeInProgress, got.Notice)
}

func TestMatches_TriggerErrorIsNotSurfaced(t *testing.T) {
	env := newEnv(t)
	env.login(t)
	env.refresher.failWith = errors.New("queue full")

	rec := env.do(t, http.MethodGet, "/api/football/matches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[matchesResponse](t, rec)
	assert.False(t, got.Refreshing)
	assert.Equal(t, noticeUnavailable, got.Notice)
}

func TestMatches_UnknownLeague(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	for _, path := range []string{
		"/api/football/matches?league=nope",
		"/api/football/matches?league=atp_australian_open",
		"/api/darts/matches",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	assert.Empty(t, env.refresher.matches)
}

func TestMatches_TennisFilterAndSort(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	records := []models.MatchRecord{
		tennisRecord(t, "Low", "Lower", models.CategoryC, models.CategoryD, 1.5, 2.5),
		tennisRecord(t, "Fav", "Dog", models.CategoryA, models.CategoryB, 1.1, 8.0),
		tennisRecord(t, "Mid", "Other", models.CategoryB, models.CategoryC, 1.25, 4.0),
	}
	data, err := storage.EncodeRecords(records)
	require.NoError(t, err)
	require.NoError(t, env.cache.Set(context.Background(),
		models.CacheKey(models.SportTennis, "atp_australian_open"), data, time.Hour))

	rec := env.do(t, http.MethodGet, "/api/tennis/matches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[matchesResponse](t, rec)
	require.Len(t, got.Matches, 3)
	assert.Equal(t, []string{"Fav", "Mid", "Low"},
		[]string{got.Matches[0].Home, got.Matches[1].Home, got.Matches[2].Home})
	assert.False(t, got.Refreshing)
	assert.Empty(t, env.refresher.matches)

	rec = env.do(t, http.MethodGet, "/api/tennis/matches?category=b", "")
	got = decode[matchesResponse](t, rec)
	assert.Equal(t, "B", got.Category)
	require.Len(t, got.Matches, 2)
	assert.Equal(t, "Fav", got.Matches[0].Home)
	assert.Equal(t, "Mid", got.Matches[1].Home)

	rec = env.do(t, http.MethodGet, "/api/tennis/matches?category=Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatches_HitWhileRefreshing(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	rec, err := models.NewMatchRecord(models.RecordSpec{
		Sport:  models.SportFootball,
		Home:   "Ajax",
		Away:   "PSV",
		Odds:   map[models.Role]float64{models.RoleHome: 2.1, models.RoleDraw: 3.4, models.RoleAway: 3.25},
		Points: map[models.Role]float64{models.RoleHome: 20, models.RoleAway: 20},
	})
	require.NoError(t, err)
	data, err := storage.EncodeRecords([]models.MatchRecord{rec})
	require.NoError(t, err)
	require.NoError(t, env.cache.Set(context.Background(),
		models.CacheKey(models.SportFootball, "eredivisie"), data, time.Hour))

	got := decode[matchesResponse](t, env.do(t, http.MethodGet, "/api/football/matches", ""))
	assert.Equal(t, 1, got.Count)
	assert.False(t, got.Refreshing)
	assert.Empty(t, got.Notice)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/football/refresh", "").Code)
	env.refresher.setBusy("eredivisie")

	got = decode[matchesResponse](t, env.do(t, http.MethodGet, "/api/football/matches", ""))
	assert.Equal(t, 1, got.Count, "cached data is still served")
	assert.True(t, got.Refreshing)
	assert.Equal(t, noticeInProgress, got.Notice)

	env.refresher.statusErr = errors.New("redis down")
	got = decode[matchesResponse](t, env.do(t, http.MethodGet, "/api/football/matches", ""))
	assert.Equal(t, 1, got.Count)
	assert.False(t, got.Refreshing)
	assert.Empty(t, got.Notice)
}

func TestRefresh(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodPost, "/api/football/refresh?league=premier_league", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"premier_league"}, env.refresher.matches)
}

func TestStartlist(t *testing.T) {
	env := newEnv(t)
	env.login(t)

	rec := env.do(t, http.MethodGet, "/api/cycling/startlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[startlistResponse](t, rec)
	assert.True(t, got.Refreshing)
	assert.Nil(t, got.Startlist)
	assert.Equal(t, []string{"opening_weekend"}, env.refresher.cycling)

	summary := cycling.Summary{
		Set:    "opening_weekend",
		Teams:  []string{"Visma"},
		Riders: map[string]cycling.Rider{"Wout van Aert": {Team: "Visma", Races: []string{"omloop"}}},
		Races:  []cycling.Race{{ID: "omloop", Name: "Omloop"}},
	}
	require.NoError(t, storage.SetJSON(context.Background(), env.cache,
		cycling.CacheKey("opening_weekend"), summary, time.Hour))

	rec = env.do(t, http.MethodGet, "/api/cycling/startlist?set=opening_weekend", "")
	got = decode[startlistResponse](t, rec)
	require.NotNil(t, got.Startlist)
	assert.Equal(t, "Visma", got.Startlist.Riders["Wout van Aert"].Team)
	assert.False(t, got.Refreshing)

	env.refresher.setBusy("opening_weekend")
	got = decode[startlistResponse](t, env.do(t, http.MethodGet, "/api/cycling/startlist", ""))
	require.NotNil(t, got.Startlist)
	assert.True(t, got.Refreshing)
	assert.Equal(t, noticeInProgress, got.Notice)

	rec = env.do(t, http.MethodGet, "/api/cycling/startlist?set=tour", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
