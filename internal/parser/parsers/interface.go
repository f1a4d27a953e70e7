package parsers

import (
	"context"
	"log/slog"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/normalizer"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/renderer"
)

// Page renders a source page into raw rows. *renderer.Renderer implements it.
type Page interface {
	Fetch(ctx context.Context, url string, rules renderer.Rules) ([]models.RawEntry, error)
	FetchRounds(ctx context.Context, url string, rules renderer.RoundRules) ([]models.RoundEntry, error)
}

// Deps is everything a fetcher needs from the worker that owns it.
type Deps struct {
	Page       Page
	Normalizer *normalizer.Normalizer
	Logger     *slog.Logger
}

// Batch is the raw output of one render: match rows plus optional round
// enrichment from a secondary page.
type Batch struct {
	Entries []models.RawEntry
	Rounds  []models.RoundEntry
}

// Fetcher turns one source page into match records. Render is the only
// step that touches the browser; Normalize is pure.
type Fetcher interface {
	Sport() models.Sport
	Render(ctx context.Context, desc models.SourceDescriptor) (Batch, error)
	Normalize(desc models.SourceDescriptor, batch Batch) []models.MatchRecord
}

// FetchAndNormalize runs both stages for desc.
func FetchAndNormalize(ctx context.Context, f Fetcher, desc models.SourceDescriptor) ([]models.MatchRecord, error) {
	batch, err := f.Render(ctx, desc)
	if err != nil {
		return nil, err
	}
	return f.Normalize(desc, batch), nil
}
