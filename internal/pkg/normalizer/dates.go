package normalizer

import (
	"strings"
	"time"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

var (
	layoutsWithYear = []string{
		"2 Jan 2006",
		"2 January 2006",
		"02-01-2006",
		"02/01/2006",
		"02.01.2006",
		"2006-01-02",
		"Jan 2 2006",
	}
	layoutsNoYear = []string{
		"2 Jan",
		"2 January",
		"Jan 2",
	}
)

// ParseDate turns a raw date header into DD-MM-YYYY relative to now.
// Anything it cannot read becomes models.DateUnknown.
func ParseDate(raw string, now time.Time) string {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if s == "" {
		return models.DateUnknown
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(s, "today"):
		return today.Format(models.DateLayout)
	case strings.Contains(s, "tomorrow"):
		return today.AddDate(0, 0, 1).Format(models.DateLayout)
	case strings.Contains(s, "yesterday"):
		return today.AddDate(0, 0, -1).Format(models.DateLayout)
	}

	for _, c := range candidates(raw) {
		for _, layout := range layoutsWithYear {
			if t, err := time.Parse(layout, c); err == nil {
				return t.Format(models.DateLayout)
			}
		}
		for _, layout := range layoutsNoYear {
			if t, err := time.Parse(layout, c); err == nil {
				// time.Parse reads a missing year as year 0, a leap year.
				d := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
				if d.Month() != t.Month() || d.Day() != t.Day() {
					return models.DateUnknown
				}
				return d.Format(models.DateLayout)
			}
		}
	}
	return models.DateUnknown
}

// candidates yields the whole header and its comma or dash separated parts,
// e.g. "Saturday, 01 Mar 2025 - Round 3" gives "01 Mar 2025".
func candidates(raw string) []string {
	clean := strings.Join(strings.Fields(strings.ReplaceAll(raw, ",", " ")), " ")
	out := []string{clean}
	for _, sep := range []string{",", " - "} {
		for _, part := range strings.Split(raw, sep) {
			if p := strings.Join(strings.Fields(part), " "); p != "" && p != clean {
				out = append(out, p)
			}
		}
	}
	return out
}
