package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/JanSparnaaij/ScoritoOdds/internal/cycling"
	"github.com/JanSparnaaij/ScoritoOdds/internal/orchestrator"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

const (
	noticeRefreshing  = "Data is being refreshed in the background. Please check back in a moment."
	noticeInProgress  = "A refresh for this league is already running. Please check back in a moment."
	noticeUnavailable = "Data is temporarily unavailable. Please try again later."
)

type league struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type matchesResponse struct {
	Sport      models.Sport         `json:"sport"`
	League     league               `json:"league"`
	Category   string               `json:"category,omitempty"`
	Matches    []models.MatchRecord `json:"matches"`
	Count      int                  `json:"count"`
	Refreshing bool                 `json:"refreshing"`
	Notice     string               `json:"notice,omitempty"`
}

type startlistResponse struct {
	Set        string           `json:"set"`
	Startlist  *cycling.Summary `json:"startlist"`
	Refreshing bool             `json:"refreshing"`
	Notice     string           `json:"notice,omitempty"`
}

// resolveLeague maps the {sport} path value and the league query parameter to
// a source. A league of another sport is reported as not found.
func (s *Server) resolveLeague(r *http.Request) (models.SourceDescriptor, bool) {
	sport, ok := models.ParseSport(chi.URLParam(r, "sport"))
	if !ok || sport == models.SportCycling {
		return models.SourceDescriptor{}, false
	}
	key := strings.TrimSpace(r.URL.Query().Get("league"))
	if key == "" {
		return s.deps.Catalog.DefaultSource(sport)
	}
	desc, ok := s.deps.Catalog.Source(key)
	if !ok || desc.Sport != sport {
		return models.SourceDescriptor{}, false
	}
	return desc, true
}

func (s *Server) handleLeagues(w http.ResponseWriter, r *http.Request) {
	sport, ok := models.ParseSport(chi.URLParam(r, "sport"))
	if !ok || sport == models.SportCycling {
		respondError(w, http.StatusNotFound, "unknown sport")
		return
	}
	out := []league{}
	for _, d := range s.deps.Catalog.SourcesFor(sport) {
		out = append(out, toLeague(d))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sport": sport, "leagues": out})
}

// handleMatches serves cached records. A miss enqueues a refresh and returns
// an empty list with a notice instead of waiting for the fetch.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.resolveLeague(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown league")
		return
	}

	resp := matchesResponse{
		Sport:   desc.Sport,
		League:  toLeague(desc),
		Matches: []models.MatchRecord{},
	}

	category := "all"
	if desc.Sport == models.SportTennis {
		category = strings.TrimSpace(r.URL.Query().Get("category"))
		if category == "" || strings.EqualFold(category, "all") {
			category = "all"
		} else {
			c := models.ParseCategory(category)
			if c == models.CategoryUnknown {
				respondError(w, http.StatusBadRequest, "category must be one of A, B, C, D or all")
				return
			}
			category = string(c)
		}
		resp.Category = category
	}

	data, hit, err := s.deps.Cache.Get(r.Context(), models.CacheKey(desc.Sport, desc.Key))
	if err != nil {
		s.logger.Error("Cache read failed", "source_key", desc.Key, "error", err)
		resp.Notice = noticeUnavailable
		respondJSON(w, http.StatusOK, resp)
		return
	}
	if !hit {
		resp.Refreshing, resp.Notice = s.triggerMatches(r.Context(), desc.Key)
		respondJSON(w, http.StatusOK, resp)
		return
	}

	records, err := storage.DecodeRecords(data)
	if err != nil {
		s.logger.Error("Cached records unreadable", "source_key", desc.Key, "error", err)
		resp.Refreshing, resp.Notice = s.triggerMatches(r.Context(), desc.Key)
		respondJSON(w, http.StatusOK, resp)
		return
	}

	if desc.Sport == models.SportTennis {
		records = filterCategory(records, category)
		sortByMaxExpected(records)
	}
	resp.Matches = records
	resp.Count = len(records)
	busy, err := s.deps.Refresher.InProgress(r.Context(), desc.Key)
	resp.Refreshing, resp.Notice = s.progressNotice("source_key", desc.Key, busy, err)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.resolveLeague(r)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown league")
		return
	}
	res, err := s.deps.Refresher.Trigger(r.Context(), desc.Key)
	if err != nil {
		s.logger.Error("Refresh trigger failed", "source_key", desc.Key, "error", err)
		respondError(w, http.StatusServiceUnavailable, "could not schedule a refresh")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"league": toLeague(desc),
		"result": res,
	})
}

func (s *Server) handleStartlist(w http.ResponseWriter, r *http.Request) {
	set := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("set")))
	if set == "" {
		keys := s.deps.Catalog.CyclingSetKeys()
		if len(keys) == 0 {
			respondError(w, http.StatusNotFound, "no startlist sets configured")
			return
		}
		set = keys[0]
	}
	if _, ok := s.deps.Catalog.CyclingSet(set); !ok {
		respondError(w, http.StatusNotFound, "unknown startlist set")
		return
	}

	resp := startlistResponse{Set: set}
	var summary cycling.Summary
	hit, err := storage.GetJSON(r.Context(), s.deps.Cache, cycling.CacheKey(set), &summary)
	switch {
	case err != nil:
		s.logger.Error("Startlist cache read failed", "set", set, "error", err)
		resp.Notice = noticeUnavailable
	case hit:
		resp.Startlist = &summary
		busy, err := s.deps.Refresher.CyclingInProgress(r.Context(), set)
		resp.Refreshing, resp.Notice = s.progressNotice("set", set, busy, err)
	default:
		res, err := s.deps.Refresher.TriggerCycling(r.Context(), set)
		resp.Refreshing, resp.Notice = s.notice("set", set, res, err)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) triggerMatches(ctx context.Context, sourceKey string) (bool, string) {
	res, err := s.deps.Refresher.Trigger(ctx, sourceKey)
	return s.notice("source_key", sourceKey, res, err)
}

func (s *Server) notice(attr, key string, res orchestrator.TriggerResult, err error) (bool, string) {
	if err != nil {
		if !crerr.Is(err, orchestrator.ErrUnknownSource) {
			s.logger.Error("Refresh trigger failed", attr, key, "error", err)
		}
		return false, noticeUnavailable
	}
	if res == orchestrator.TriggerInProgress {
		return true, noticeInProgress
	}
	return true, noticeRefreshing
}

// progressNotice flags cached data that is being refreshed. A failed check
// serves the data without a notice.
func (s *Server) progressNotice(attr, key string, busy bool, err error) (bool, string) {
	if err != nil {
		s.logger.Warn("Refresh status check failed", attr, key, "error", err)
		return false, ""
	}
	if busy {
		return true, noticeInProgress
	}
	return false, ""
}

func toLeague(d models.SourceDescriptor) league {
	name := d.Name
	if name == "" {
		name = d.Key
	}
	return league{Key: d.Key, Name: name, Default: d.Default}
}

func filterCategory(records []models.MatchRecord, category string) []models.MatchRecord {
	if category == "all" {
		return records
	}
	c := models.Category(category)
	out := make([]models.MatchRecord, 0, len(records))
	for _, rec := range records {
		if rec.HasCategory(c) {
			out = append(out, rec)
		}
	}
	return out
}

func sortByMaxExpected(records []models.MatchRecord) {
	slices.SortStableFunc(records, func(a, b models.MatchRecord) int {
		ma, mb := a.MaxExpectedPoints(), b.MaxExpectedPoints()
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})
}
