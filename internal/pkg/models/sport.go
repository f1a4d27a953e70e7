package models

import "strings"

type Sport string

const (
	SportFootball Sport = "football"
	SportTennis   Sport = "tennis"
	SportCycling  Sport = "cycling"
)

// ParseSport accepts any casing and surrounding whitespace.
func ParseSport(s string) (Sport, bool) {
	switch Sport(strings.ToLower(strings.TrimSpace(s))) {
	case SportFootball:
		return SportFootball, true
	case SportTennis:
		return SportTennis, true
	case SportCycling:
		return SportCycling, true
	}
	return "", false
}

// OddsCount is the number of prices a match row must carry.
func (s Sport) OddsCount() int {
	switch s {
	case SportFootball:
		return 3
	case SportTennis:
		return 2
	}
	return 0
}

// Role names a participant slot in a record. Tennis uses home/away for
// player1/player2.
type Role string

const (
	RoleHome Role = "home"
	RoleAway Role = "away"
	RoleDraw Role = "draw"
)

// Category is a coarse strength tier, A strongest.
type Category string

const (
	CategoryA       Category = "A"
	CategoryB       Category = "B"
	CategoryC       Category = "C"
	CategoryD       Category = "D"
	CategoryUnknown Category = "Unknown"
)

func ParseCategory(s string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryA:
		return CategoryA
	case CategoryB:
		return CategoryB
	case CategoryC:
		return CategoryC
	case CategoryD:
		return CategoryD
	}
	return CategoryUnknown
}

// Rank orders categories: A=4 down to Unknown=0.
func (c Category) Rank() int {
	switch c {
	case CategoryA:
		return 4
	case CategoryB:
		return 3
	case CategoryC:
		return 2
	case CategoryD:
		return 1
	}
	return 0
}

const (
	// DateUnknown replaces a date that could not be parsed.
	DateUnknown = "unknown"
	// RoundUnknown is used when neither the page nor the schedule names a round.
	RoundUnknown = "Unknown"
	// DateLayout is the wire format of MatchRecord.Date.
	DateLayout = "02-01-2006"
)
