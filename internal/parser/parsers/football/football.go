// Package football reads league fixture pages with 1X2 odds.
package football

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"
)

// Rules match the league "next matches" listing. Odds appear in home, draw,
// away order.
var Rules = renderer.Rules{
	MarkerSelector:  "div[data-v-b8d70024] > div.eventRow",
	RowSelector:     "div[data-v-b8d70024] > div.eventRow",
	DateSelector:    ".text-black-main.font-main",
	NameSelector:    "a[title]",
	OddsSelector:    "div[data-v-34474325] p",
	RowIDAttr:       "id",
	ConsentSelector: "#onetrust-accept-btn-handler",
	ScrollToLoad:    true,
}

func init() {
	parsers.Register(models.SportFootball, New)
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
	return models.SportFootball
}

func (f *Fetcher) Render(ctx context.Context, desc models.SourceDescriptor) (parsers.Batch, error) {
	entries, err := f.deps.Page.Fetch(ctx, desc.URL, Rules)
	if err != nil {
		return parsers.Batch{}, fmt.Errorf("render %s: %w", desc.Key, err)
	}
	f.deps.Logger.Info("Football page rendered", "source", desc.Key, "rows", len(entries))
	return parsers.Batch{Entries: entries}, nil
}

func (f *Fetcher) Normalize(desc models.SourceDescriptor, batch parsers.Batch) []models.MatchRecord {
	return f.deps.Normalizer.Normalize(desc, batch.Entries, nil)
}
