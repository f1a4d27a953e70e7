package renderer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

// Extract walks rows in document order and emits one RawEntry per match
// row, tagged with the most recent date header. Duplicate rows are dropped.
func Extract(html string, rules Rules) ([]models.RawEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, crerr.Mark(crerr.Wrap(err, "parse html"), ErrRender)
	}

	var (
		out         []models.RawEntry
		seen        = make(map[string]struct{})
		currentDate string
	)
	doc.Find(rules.RowSelector).Each(func(_ int, row *goquery.Selection) {
		if rules.DateSelector != "" {
			if d := cleanText(row.Find(rules.DateSelector).First().Text()); d != "" {
				currentDate = d
			}
		}

		names := row.Find(rules.NameSelector)
		if names.Length() < 2 {
			return
		}
		home := nameOf(names.Eq(0))
		away := nameOf(names.Eq(1))
		if home == "" || away == "" {
			return
		}

		var rowID string
		if rules.RowIDAttr != "" {
			rowID, _ = row.Attr(rules.RowIDAttr)
			rowID = strings.TrimSpace(rowID)
		}
		key := "pair:" + models.IdentityKey(home, away)
		if rowID != "" {
			key = "id:" + rowID
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		var odds []string
		if rules.OddsSelector != "" {
			row.Find(rules.OddsSelector).Each(func(_ int, o *goquery.Selection) {
				if v := cleanText(o.Text()); v != "" {
					odds = append(odds, v)
				}
			})
		}

		out = append(out, models.RawEntry{
			RowID: rowID,
			Home:  home,
			Away:  away,
			Odds:  odds,
			Date:  currentDate,
		})
	})
	return out, nil
}

// ExtractRounds reads a standings page into round enrichment rows.
func ExtractRounds(html string, rules RoundRules) ([]models.RoundEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, crerr.Mark(crerr.Wrap(err, "parse html"), ErrRender)
	}

	var out []models.RoundEntry
	doc.Find(rules.BlockSelector).Each(func(_ int, block *goquery.Selection) {
		round := models.RoundUnknown
		if classes := strings.Fields(block.AttrOr("class", "")); len(classes) > 1 {
			round = classes[1]
		}
		block.Find(rules.MatchSelector).Each(func(_ int, m *goquery.Selection) {
			home := cleanText(m.Find(rules.HomeSelector).First().Text())
			away := cleanText(m.Find(rules.AwaySelector).First().Text())
			if home == "" || away == "" {
				return
			}
			out = append(out, models.RoundEntry{
				Round: round,
				Home:  home,
				Away:  away,
				Date:  cleanText(m.Find(rules.DateSelector).First().Text()),
			})
		})
	})
	return out, nil
}

func nameOf(s *goquery.Selection) string {
	if v := cleanText(s.Text()); v != "" {
		return v
	}
	return cleanText(s.AttrOr("title", ""))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
