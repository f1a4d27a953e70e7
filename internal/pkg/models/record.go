package models

import (
	"math"
	"strings"

	crerr "github.com/cockroachdb/errors"
)

// ErrInvalidRecord marks a row that cannot become a MatchRecord. It is scoped
// to a single record and never aborts a batch.
var ErrInvalidRecord = crerr.New("invalid record")

// SourceDescriptor identifies one scrapeable feed. Loaded once at startup.
type SourceDescriptor struct {
	Key       string `yaml:"key" validate:"required"`
	Name      string `yaml:"name"`
	Sport     Sport  `yaml:"sport" validate:"required,oneof=football tennis cycling"`
	URL       string `yaml:"url" validate:"required,url"`
	RoundsURL string `yaml:"rounds_url" validate:"omitempty,url"`
	Schedule  string `yaml:"schedule"`
	Default   bool   `yaml:"default"`
}

// RawEntry is one match row as it was read from rendered markup.
type RawEntry struct {
	RowID string
	Home  string
	Away  string
	Odds  []string
	Date  string
	Round string
}

// RoundEntry comes from a secondary rounds page and carries the round and
// date of a fixture identified by its participants.
type RoundEntry struct {
	Round string
	Home  string
	Away  string
	Date  string
}

// MatchRecord is the normalized cacheable unit. Build it with NewMatchRecord
// and never modify it afterwards.
type MatchRecord struct {
	Sport          Sport             `json:"sport"`
	Date           string            `json:"date"`
	RoundName      string            `json:"round_name"`
	Home           string            `json:"home"`
	Away           string            `json:"away"`
	Odds           map[Role]float64  `json:"odds"`
	Rating         map[Role]Category `json:"rating"`
	ExpectedPoints map[Role]float64  `json:"expected_points"`
}

// RecordSpec holds the inputs of a MatchRecord. Points is the base value each
// participant scores when winning, already resolved from rating and round.
type RecordSpec struct {
	Sport  Sport
	Date   string
	Round  string
	Home   string
	Away   string
	Odds   map[Role]float64
	Rating map[Role]Category
	Points map[Role]float64
}

// NewMatchRecord validates spec and derives expected points as
// round(1/odds * points, 2) for both participants.
func NewMatchRecord(spec RecordSpec) (MatchRecord, error) {
	home := strings.TrimSpace(spec.Home)
	away := strings.TrimSpace(spec.Away)
	if home == "" || away == "" {
		return MatchRecord{}, crerr.Wrap(ErrInvalidRecord, "empty participant")
	}
	if home == away {
		return MatchRecord{}, crerr.Wrapf(ErrInvalidRecord, "participants are identical: %q", home)
	}

	roles := []Role{RoleHome, RoleAway}
	if spec.Sport == SportFootball {
		roles = append(roles, RoleDraw)
	}
	odds := make(map[Role]float64, len(roles))
	for _, role := range roles {
		v, ok := spec.Odds[role]
		if !ok {
			return MatchRecord{}, crerr.Wrapf(ErrInvalidRecord, "missing %s odds", role)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 1.0 {
			return MatchRecord{}, crerr.Wrapf(ErrInvalidRecord, "%s odds %v not above 1.0", role, v)
		}
		odds[role] = v
	}

	rating := make(map[Role]Category, 2)
	expected := make(map[Role]float64, 2)
	for _, role := range []Role{RoleHome, RoleAway} {
		c, ok := spec.Rating[role]
		if !ok || c == "" {
			c = CategoryUnknown
		}
		rating[role] = c

		p := spec.Points[role]
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return MatchRecord{}, crerr.Wrapf(ErrInvalidRecord, "%s points %v", role, p)
		}
		expected[role] = ExpectedPoints(odds[role], p)
	}

	date := spec.Date
	if date == "" {
		date = DateUnknown
	}
	round := spec.Round
	if round == "" {
		round = RoundUnknown
	}

	return MatchRecord{
		Sport:          spec.Sport,
		Date:           date,
		RoundName:      round,
		Home:           home,
		Away:           away,
		Odds:           odds,
		Rating:         rating,
		ExpectedPoints: expected,
	}, nil
}

// ExpectedPoints is the unnormalized implied probability 1/odds times points,
// rounded to two decimals.
func ExpectedPoints(odds, points float64) float64 {
	return math.Round((1/odds)*points*100) / 100
}

// MaxExpectedPoints is the larger of the two participants' expected points.
func (r MatchRecord) MaxExpectedPoints() float64 {
	return math.Max(r.ExpectedPoints[RoleHome], r.ExpectedPoints[RoleAway])
}

// HasCategory reports whether either participant is rated c.
func (r MatchRecord) HasCategory(c Category) bool {
	return r.Rating[RoleHome] == c || r.Rating[RoleAway] == c
}

// CyclingRace is one startlist page of a cycling race set.
type CyclingRace struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
	URL  string `yaml:"url" validate:"required,url"`
}
