package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	crerr "github.com/cockroachdb/errors"
)

const maxNameLen = 200

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)

// cleanName strips control characters and collapses whitespace.
func cleanName(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}

// hasDigit catches score strings such as "6-4" captured in place of a name.
func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// parseOdds reads a decimal price. A comma decimal separator is accepted.
func parseOdds(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, crerr.Mark(crerr.Wrapf(err, "odds %q", raw), ErrParse)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, crerr.Mark(crerr.Newf("odds %q not finite", raw), ErrParse)
	}
	return v, nil
}
