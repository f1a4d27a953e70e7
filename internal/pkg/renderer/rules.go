// Package renderer loads dynamic pages in a headless browser and turns the
// resulting markup into raw match rows.
package renderer

import crerr "github.com/cockroachdb/errors"

var (
	// ErrRenderTimeout means the page or its content marker did not appear in time.
	ErrRenderTimeout = crerr.New("render timeout")
	// ErrRender means the page loaded but could not be used.
	ErrRender = crerr.New("render error")
)

// Rules describe how one kind of page is rendered and read. All selectors
// are CSS; row-scoped selectors are evaluated inside each row.
type Rules struct {
	// MarkerSelector must become visible before the page counts as rendered.
	MarkerSelector string
	// RowSelector yields rows in DOM order.
	RowSelector string
	// DateSelector finds a date header inside a row. A row carrying one sets
	// the date for itself and every following row.
	DateSelector string
	// NameSelector must match at least two elements for a row to be a match.
	NameSelector string
	OddsSelector string
	// RowIDAttr names the stable row identifier attribute. Empty means rows
	// are deduplicated by participant pair.
	RowIDAttr string
	// ConsentSelector is clicked when present.
	ConsentSelector string
	// ScrollToLoad keeps scrolling until the row count stops growing.
	ScrollToLoad bool
}

// RoundRules read a standings page into round enrichment rows.
type RoundRules struct {
	MarkerSelector  string
	BlockSelector   string // one element per round; its second class is the round name
	MatchSelector   string
	HomeSelector    string
	AwaySelector    string
	DateSelector    string
	ConsentSelector string
}

func (r RoundRules) pageRules() Rules {
	return Rules{
		MarkerSelector:  r.MarkerSelector,
		RowSelector:     r.BlockSelector,
		ConsentSelector: r.ConsentSelector,
	}
}
