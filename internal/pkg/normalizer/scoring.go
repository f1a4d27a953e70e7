package normalizer

import (
	"strings"
	"time"
	"unicode"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// Schedule maps match dates to tournament rounds.
type Schedule []config.RoundRange

// Lookup takes a DD-MM-YYYY date and returns the round whose inclusive range
// contains it, or models.RoundUnknown.
func (s Schedule) Lookup(date string) string {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.RoundUnknown
	}
	for _, r := range s {
		if !d.Before(r.Start) && !d.After(r.End) {
			return r.Round
		}
	}
	return models.RoundUnknown
}

// scoring resolves ratings and base points for one sport.
type scoring struct {
	categories map[string]models.Category
	flat       map[models.Category]float64
	byRound    map[string]map[models.Category]float64
}

func newScoring(in config.SportRatings) scoring {
	s := scoring{
		categories: make(map[string]models.Category, len(in.Categories)),
		flat:       toCategoryPoints(in.Points),
		byRound:    make(map[string]map[models.Category]float64, len(in.RoundPoints)),
	}
	for name, c := range in.Categories {
		s.categories[name] = models.ParseCategory(c)
	}
	for round, pts := range in.RoundPoints {
		s.byRound[round] = toCategoryPoints(pts)
	}
	return s
}

func toCategoryPoints(in map[string]float64) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(in))
	for c, p := range in {
		out[models.ParseCategory(c)] = p
	}
	return out
}

// category is an exact, case-sensitive lookup.
func (s scoring) category(name string) models.Category {
	if c, ok := s.categories[name]; ok {
		return c
	}
	return models.CategoryUnknown
}

// points returns the base points for c in round. Categories missing from the
// table score with the lowest tier (D). A round-dependent table without an
// entry for round scores zero.
func (s scoring) points(c models.Category, round string) float64 {
	table := s.flat
	if len(s.byRound) > 0 {
		table = s.byRound[round]
		if table == nil {
			return 0
		}
	}
	if p, ok := table[c]; ok {
		return p
	}
	return table[models.CategoryD]
}

func (s scoring) rounds() []string {
	out := make([]string, 0, len(s.byRound))
	for r := range s.byRound {
		out = append(out, r)
	}
	return out
}

// canonicalRound maps page spellings such as "quarter-finals" onto a known
// round name. Unrecognized labels are returned trimmed.
func canonicalRound(raw string, known ...[]string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	want := roundKey(raw)
	for _, list := range known {
		for _, k := range list {
			if roundKey(k) == want {
				return k
			}
		}
	}
	return raw
}

func roundKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
