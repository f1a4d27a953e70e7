package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

const scheduleDateLayout = "2006-01-02"

// Tables bundles the static lookup data loaded once at process start.
// Nothing mutates it afterwards.
type Tables struct {
	Sources   []models.SourceDescriptor
	Ratings   RatingTable
	Schedules map[string][]RoundRange

	// Cycling maps a race set key to its startlist pages.
	Cycling map[string][]models.CyclingRace
}

// RatingTable maps display names to categories and categories to points.
type RatingTable struct {
	Football SportRatings `yaml:"football"`
	Tennis   SportRatings `yaml:"tennis"`
}

type SportRatings struct {
	// Categories uses exact, case-sensitive display names.
	Categories map[string]string `yaml:"categories"`
	// Points is the category-only table (football).
	Points map[string]float64 `yaml:"points"`
	// RoundPoints is keyed by round then category (tennis).
	RoundPoints map[string]map[string]float64 `yaml:"round_points"`
}

// RoundRange is one row of a tournament schedule, both ends inclusive.
type RoundRange struct {
	Round string
	Start time.Time
	End   time.Time
}

type sourcesFile struct {
	Sources []models.SourceDescriptor       `yaml:"sources"`
	Cycling map[string][]models.CyclingRace `yaml:"cycling"`
}

type scheduleRow struct {
	Round string `yaml:"round"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type schedulesFile struct {
	Schedules map[string][]scheduleRow `yaml:"schedules"`
}

// LoadTables reads the sources, ratings and schedules files named by cfg.
func LoadTables(cfg TablesConfig) (*Tables, error) {
	var sf sourcesFile
	if err := readYAML(cfg.Sources, &sf); err != nil {
		return nil, err
	}
	var rt RatingTable
	if err := readYAML(cfg.Ratings, &rt); err != nil {
		return nil, err
	}
	var sch schedulesFile
	if err := readYAML(cfg.Schedules, &sch); err != nil {
		return nil, err
	}
	t, err := buildTables(sf.Sources, rt, sch.Schedules)
	if err != nil {
		return nil, err
	}
	if err := validateCycling(sf.Cycling); err != nil {
		return nil, err
	}
	t.Cycling = sf.Cycling
	return t, nil
}

func buildTables(sources []models.SourceDescriptor, rt RatingTable, rows map[string][]scheduleRow) (*Tables, error) {
	schedules, err := parseSchedules(rows)
	if err != nil {
		return nil, err
	}
	if err := validateSources(sources, schedules); err != nil {
		return nil, err
	}
	return &Tables{
		Sources:   sources,
		Ratings:   rt,
		Schedules: schedules,
		Cycling:   map[string][]models.CyclingRace{},
	}, nil
}

// Source looks a descriptor up by key.
func (t *Tables) Source(key string) (models.SourceDescriptor, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, s := range t.Sources {
		if s.Key == key {
			return s, true
		}
	}
	return models.SourceDescriptor{}, false
}

// SourceKeys lists every source key in file order.
func (t *Tables) SourceKeys() []string {
	keys := make([]string, 0, len(t.Sources))
	for _, s := range t.Sources {
		keys = append(keys, s.Key)
	}
	return keys
}

// SourcesFor returns the descriptors of one sport in file order.
func (t *Tables) SourcesFor(sport models.Sport) []models.SourceDescriptor {
	var out []models.SourceDescriptor
	for _, s := range t.Sources {
		if s.Sport == sport {
			out = append(out, s)
		}
	}
	return out
}

// DefaultSource is the descriptor flagged default for sport, else the first one.
func (t *Tables) DefaultSource(sport models.Sport) (models.SourceDescriptor, bool) {
	all := t.SourcesFor(sport)
	for _, s := range all {
		if s.Default {
			return s, true
		}
	}
	if len(all) > 0 {
		return all[0], true
	}
	return models.SourceDescriptor{}, false
}

// CyclingSet returns the races of one startlist set.
func (t *Tables) CyclingSet(key string) ([]models.CyclingRace, bool) {
	races, ok := t.Cycling[strings.ToLower(strings.TrimSpace(key))]
	return races, ok
}

func (t *Tables) CyclingSetKeys() []string {
	keys := make([]string, 0, len(t.Cycling))
	for k := range t.Cycling {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func parseSchedules(in map[string][]scheduleRow) (map[string][]RoundRange, error) {
	out := make(map[string][]RoundRange, len(in))
	for name, rows := range in {
		ranges := make([]RoundRange, 0, len(rows))
		for _, r := range rows {
			start, err := time.Parse(scheduleDateLayout, r.Start)
			if err != nil {
				return nil, fmt.Errorf("schedule %s round %q: bad start: %w", name, r.Round, err)
			}
			end, err := time.Parse(scheduleDateLayout, r.End)
			if err != nil {
				return nil, fmt.Errorf("schedule %s round %q: bad end: %w", name, r.Round, err)
			}
			if end.Before(start) {
				return nil, fmt.Errorf("schedule %s round %q: end before start", name, r.Round)
			}
			ranges = append(ranges, RoundRange{Round: r.Round, Start: start, End: end})
		}
		out[name] = ranges
	}
	return out, nil
}

func validateSources(sources []models.SourceDescriptor, schedules map[string][]RoundRange) error {
	v := validator.New()
	seen := make(map[string]bool, len(sources))
	for i := range sources {
		s := &sources[i]
		s.Key = strings.ToLower(strings.TrimSpace(s.Key))
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("source %q: %w", s.Key, err)
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate source key %q", s.Key)
		}
		seen[s.Key] = true
		if s.Schedule != "" {
			if _, ok := schedules[s.Schedule]; !ok {
				return fmt.Errorf("source %q: unknown schedule %q", s.Key, s.Schedule)
			}
		}
	}
	return nil
}

func validateCycling(sets map[string][]models.CyclingRace) error {
	v := validator.New()
	for key, races := range sets {
		if len(races) == 0 {
			return fmt.Errorf("cycling set %q has no races", key)
		}
		for _, r := range races {
			if err := v.Struct(r); err != nil {
				return fmt.Errorf("cycling set %q race %q: %w", key, r.ID, err)
			}
		}
	}
	return nil
}
