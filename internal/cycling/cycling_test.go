package cycling

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	crerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

const omloopPage = `<html><body>
<ul class="startlist_v4">
  <li>
    <a class="team" href="team/visma">Team Visma | Lease a Bike</a>
    <ul>
      <li><a href="rider/wout-van-aert">VAN AERT Wout</a></li>
      <li><a href="rider/christophe-laporte">LAPORTE Christophe</a></li>
    </ul>
  </li>
  <li>
    <a class="team" href="team/alpecin">Alpecin - Deceuninck</a>
    <ul>
      <li><a href="rider/mathieu-van-der-poel">VAN DER POEL Mathieu</a></li>
      <li><span>tbc</span></li>
    </ul>
  </li>
</ul>
</body></html>`

const kbkPage = `<html><body>
<ul class="startlist_v4">
  <li>
    <a class="team">Alpecin - Deceuninck</a>
    <ul><li><a>VAN DER POEL Mathieu</a></li><li><a>PHILIPSEN Jasper</a></li></ul>
  </li>
</ul>
</body></html>`

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseStartlist(t *testing.T) {
	teams, err := ParseStartlist(strings.NewReader(omloopPage))
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "Team Visma | Lease a Bike", teams[0].Name)
	assert.Equal(t, []string{"VAN AERT Wout", "LAPORTE Christophe"}, teams[0].Riders)
	assert.Equal(t, []string{"VAN DER POEL Mathieu"}, teams[1].Riders)

	_, err = ParseStartlist(strings.NewReader("<html><body><p>maintenance</p></body></html>"))
	assert.True(t, crerr.Is(err, ErrStartlist))
}

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/omloop", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(omloopPage))
		_ = bw.Close()
	})
	mux.HandleFunc("/kbk", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte(kbkPage))
		_ = gz.Close()
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient() *Client {
	return NewClient(config.CyclingConfig{Timeout: 5 * time.Second, UserAgent: "test"}, quiet())
}

func TestClient_DecodesBodies(t *testing.T) {
	srv := newServer(t)
	c := newTestClient()

	teams, err := c.Fetch(context.Background(), srv.URL+"/omloop")
	require.NoError(t, err)
	assert.Len(t, teams, 2)

	teams, err = c.Fetch(context.Background(), srv.URL+"/kbk")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, []string{"VAN DER POEL Mathieu", "PHILIPSEN Jasper"}, teams[0].Riders)

	_, err = c.Fetch(context.Background(), srv.URL+"/down")
	assert.True(t, crerr.Is(err, ErrStartlist))
}

func TestClient_BodyLimit(t *testing.T) {
	srv := newServer(t)
	c := newTestClient()
	c.maxBody = 64

	_, err := c.Fetch(context.Background(), srv.URL+"/kbk")
	require.Error(t, err)
	assert.True(t, crerr.Is(err, ErrStartlist))
	assert.Contains(t, err.Error(), "body exceeds 64 bytes")
}

func TestFetchAllAndProcess(t *testing.T) {
	srv := newServer(t)
	races := []models.CyclingRace{
		{ID: "omloop", Name: "Omloop", URL: srv.URL + "/omloop"},
		{ID: "kbk", Name: "Kuurne", URL: srv.URL + "/kbk"},
		{ID: "broken", Name: "Broken", URL: srv.URL + "/down"},
	}

	raw := FetchAll(context.Background(), newTestClient(), races, 3)
	require.Len(t, raw, 3)
	assert.Equal(t, "omloop", raw[0].Race.ID)
	assert.Equal(t, "kbk", raw[1].Race.ID)
	assert.Error(t, raw[2].Err)

	s := Process("opening_weekend", raw)
	assert.Equal(t, []string{"Alpecin - Deceuninck", "Team Visma | Lease a Bike"}, s.Teams)
	assert.Equal(t, []Race{{"omloop", "Omloop"}, {"kbk", "Kuurne"}, {"broken", "Broken"}}, s.Races)
	assert.Equal(t, []string{"broken"}, s.Failed)

	mvdp := s.Riders["VAN DER POEL Mathieu"]
	assert.Equal(t, "Alpecin - Deceuninck", mvdp.Team)
	assert.Equal(t, []string{"omloop", "kbk"}, mvdp.Races)
	assert.Equal(t, []string{"kbk"}, s.Riders["PHILIPSEN Jasper"].Races)
	assert.Len(t, s.Riders, 4)
}

type sets map[string][]models.CyclingRace

func (s sets) CyclingSet(key string) ([]models.CyclingRace, bool) {
	r, ok := s[key]
	return r, ok
}

func TestRefresher(t *testing.T) {
	srv := newServer(t)
	store := storage.NewMemoryStore()
	catalog := sets{
		"opening_weekend": {
			{ID: "omloop", URL: srv.URL + "/omloop"},
			{ID: "kbk", URL: srv.URL + "/kbk"},
		},
		"all_down": {{ID: "broken", URL: srv.URL + "/down"}},
	}
	r := NewRefresher(catalog, newTestClient(), store, store, RefresherOptions{Concurrency: 2, Logger: quiet()})
	ctx := context.Background()

	_, err := r.Refresh(ctx, "grand_tours")
	assert.True(t, crerr.Is(err, ErrUnknownSet))

	summary, err := r.Refresh(ctx, "opening_weekend")
	require.NoError(t, err)
	assert.Len(t, summary.Riders, 4)

	var cached Summary
	ok, err := storage.GetJSON(ctx, store, CacheKey("opening_weekend"), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary.Teams, cached.Teams)

	held, _ := store.Held(ctx, LockKey("opening_weekend"))
	assert.False(t, held, "lock released after refresh")

	_, err = r.Refresh(ctx, "all_down")
	assert.True(t, crerr.Is(err, ErrNoStartlists))
	ok, _ = store.Exists(ctx, CacheKey("all_down"))
	assert.False(t, ok)

	ok, _ = store.Acquire(ctx, LockKey("opening_weekend"), "other-worker", time.Minute)
	require.True(t, ok)
	_, err = r.Refresh(ctx, "opening_weekend")
	assert.ErrorIs(t, err, ErrInProgress)
}
