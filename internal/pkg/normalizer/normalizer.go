// Package normalizer turns raw rendered rows into validated MatchRecords.
package normalizer

import (
	"log/slog"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// ErrParse marks a field that could not be read. Like models.ErrInvalidRecord
// it only ever drops the one row it belongs to.
var ErrParse = crerr.New("parse error")

// Clock returns the current time; tests pin it.
type Clock func() time.Time

type Option func(*Normalizer)

func WithClock(c Clock) Option {
	return func(n *Normalizer) { n.now = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// Normalizer is safe for concurrent use; it only reads its tables.
type Normalizer struct {
	now       Clock
	logger    *slog.Logger
	schedules map[string]Schedule
	sports    map[models.Sport]scoring
}

func New(tables *config.Tables, opts ...Option) *Normalizer {
	n := &Normalizer{
		now:       time.Now,
		logger:    slog.Default(),
		schedules: make(map[string]Schedule, len(tables.Schedules)),
		sports: map[models.Sport]scoring{
			models.SportFootball: newScoring(tables.Ratings.Football),
			models.SportTennis:   newScoring(tables.Ratings.Tennis),
		},
	}
	for name, ranges := range tables.Schedules {
		n.schedules[name] = Schedule(ranges)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize builds a fresh record list from entries in input order.
// rounds is the optional enrichment list from a secondary page. Rows that
// fail any check are logged and skipped; the result is never nil.
func (n *Normalizer) Normalize(desc models.SourceDescriptor, entries []models.RawEntry, rounds []models.RoundEntry) []models.MatchRecord {
	out := make([]models.MatchRecord, 0, len(entries))
	if len(entries) == 0 {
		return out
	}

	now := n.now()
	sc := n.sports[desc.Sport]
	schedule := n.schedules[desc.Schedule]
	knownRounds := [][]string{sc.rounds(), scheduleRounds(schedule)}
	enrich := indexRounds(rounds)

	seen := make(map[string]struct{}, len(entries))
	dropped := 0
	for i, e := range entries {
		rec, err := n.normalizeOne(desc.Sport, e, now, sc, schedule, knownRounds, enrich)
		if err != nil {
			dropped++
			n.logger.Debug("Skipping row", "source_key", desc.Key, "row", i, "row_id", e.RowID, "error", err)
			continue
		}
		key := models.IdentityKey(rec.Home, rec.Away)
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}

	n.logger.Info("Normalized rows", "source_key", desc.Key, "sport", desc.Sport,
		"rows", len(entries), "records", len(out), "dropped", dropped)
	return out
}

func (n *Normalizer) normalizeOne(
	sport models.Sport,
	e models.RawEntry,
	now time.Time,
	sc scoring,
	schedule Schedule,
	knownRounds [][]string,
	enrich map[string]models.RoundEntry,
) (models.MatchRecord, error) {
	home, away := cleanName(e.Home), cleanName(e.Away)
	if home == "" || away == "" {
		return models.MatchRecord{}, crerr.Wrap(models.ErrInvalidRecord, "missing participant")
	}
	if hasDigit(home) || hasDigit(away) {
		return models.MatchRecord{}, crerr.Wrapf(models.ErrInvalidRecord, "participant looks like a score: %q vs %q", home, away)
	}

	odds, err := coerceOdds(sport, e.Odds)
	if err != nil {
		return models.MatchRecord{}, err
	}

	date := ParseDate(e.Date, now)
	round := canonicalRound(e.Round, knownRounds...)
	if re, ok := lookupRound(enrich, home, away); ok {
		if round == "" {
			round = canonicalRound(re.Round, knownRounds...)
		}
		if date == models.DateUnknown && re.Date != "" {
			date = ParseDate(re.Date, now)
		}
	}
	if round == "" || round == models.RoundUnknown {
		round = schedule.Lookup(date)
	}

	homeCat, awayCat := sc.category(home), sc.category(away)
	return models.NewMatchRecord(models.RecordSpec{
		Sport:  sport,
		Date:   date,
		Round:  round,
		Home:   home,
		Away:   away,
		Odds:   odds,
		Rating: map[models.Role]models.Category{models.RoleHome: homeCat, models.RoleAway: awayCat},
		Points: map[models.Role]float64{
			models.RoleHome: sc.points(homeCat, round),
			models.RoleAway: sc.points(awayCat, round),
		},
	})
}

// coerceOdds maps prices onto roles. Football rows list home, draw, away;
// tennis rows list player one then player two.
func coerceOdds(sport models.Sport, raw []string) (map[models.Role]float64, error) {
	need := sport.OddsCount()
	if need == 0 {
		return nil, crerr.Wrapf(models.ErrInvalidRecord, "sport %q has no odds layout", sport)
	}
	if len(raw) < need {
		return nil, crerr.Wrapf(models.ErrInvalidRecord, "got %d odds, need %d", len(raw), need)
	}

	roles := []models.Role{models.RoleHome, models.RoleAway}
	if sport == models.SportFootball {
		roles = []models.Role{models.RoleHome, models.RoleDraw, models.RoleAway}
	}
	out := make(map[models.Role]float64, need)
	for i, role := range roles {
		v, err := parseOdds(raw[i])
		if err != nil {
			return nil, err
		}
		if v <= 1.0 {
			return nil, crerr.Wrapf(models.ErrInvalidRecord, "%s odds %v not above 1.0", role, v)
		}
		out[role] = v
	}
	return out, nil
}

func indexRounds(rounds []models.RoundEntry) map[string]models.RoundEntry {
	if len(rounds) == 0 {
		return nil
	}
	out := make(map[string]models.RoundEntry, len(rounds))
	for _, r := range rounds {
		key := models.IdentityKey(cleanName(r.Home), cleanName(r.Away))
		if _, ok := out[key]; !ok {
			out[key] = r
		}
	}
	return out
}

// lookupRound matches an enrichment row in either participant order.
func lookupRound(idx map[string]models.RoundEntry, home, away string) (models.RoundEntry, bool) {
	if idx == nil {
		return models.RoundEntry{}, false
	}
	if r, ok := idx[models.IdentityKey(home, away)]; ok {
		return r, true
	}
	r, ok := idx[models.IdentityKey(away, home)]
	return r, ok
}

func scheduleRounds(s Schedule) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, r.Round)
	}
	return out
}
