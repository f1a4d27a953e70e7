// Package tennis reads tournament fixture pages with head-to-head odds and,
// when the source has one, a draw page that names each match's round.
package tennis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"
)

var Rules = renderer.Rules{
	MarkerSelector:  "div[data-v-b8d70024]",
	RowSelector:     "div[data-v-b8d70024] > div[id]",
	DateSelector:    ".text-black-main.font-main",
	NameSelector:    "a[title]",
	OddsSelector:    "div[data-v-34474325] p",
	RowIDAttr:       "id",
	ConsentSelector: "#onetrust-accept-btn-handler",
	ScrollToLoad:    true,
}

var DrawRules = renderer.RoundRules{
	MarkerSelector: "div.round",
	BlockSelector:  "div.round",
	MatchSelector:  "div.match",
	HomeSelector:   "span.participant.home .name",
	AwaySelector:   "span.participant.away .name",
	DateSelector:   "span.date",
}

func init() {
	parsers.Register(models.SportTennis, New)
}

type Fetcher struct {
	deps parsers.Deps
}

func New(deps parsers.Deps) parsers.Fetcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Fetcher{deps: deps}
}

func (f *Fetcher) Sport() models.Sport {
	return models.SportTennis
}

// Render fetches the odds page, then the draw page. A failed draw page only
// costs enrichment; schedule lookup still assigns rounds.
func (f *Fetcher) Render(ctx context.Context, desc models.SourceDescriptor) (parsers.Batch, error) {
	entries, err := f.deps.Page.Fetch(ctx, desc.URL, Rules)
	if err != nil {
		return parsers.Batch{}, fmt.Errorf("render %s: %w", desc.Key, err)
	}
	batch := parsers.Batch{Entries: entries}

	if desc.RoundsURL != "" {
		rounds, err := f.deps.Page.FetchRounds(ctx, desc.RoundsURL, DrawRules)
		if err != nil {
			f.deps.Logger.Warn("Draw page unavailable, continuing without round enrichment",
				"source", desc.Key, "url", desc.RoundsURL, "error", err)
		} else {
			batch.Rounds = rounds
		}
	}

	f.deps.Logger.Info("Tennis page rendered", "source", desc.Key, "rows", len(batch.Entries), "draw_rows", len(batch.Rounds))
	return batch, nil
}

func (f *Fetcher) Normalize(desc models.SourceDescriptor, batch parsers.Batch) []models.MatchRecord {
	return f.deps.Normalizer.Normalize(desc, batch.Entries, batch.Rounds)
}
