package models

import (
	"fmt"
	"strings"
)

// IdentityKey builds the dedupe identity of a fixture from the ordered
// participant pair. "Ajax" vs "PSV" and "PSV" vs "Ajax" are different fixtures.
func IdentityKey(home, away string) string {
	return normalizeKeyPart(home) + "|" + normalizeKeyPart(away)
}

// CacheKey is the key the serving layer reads and the orchestrator writes.
// Format: {sport}_matches_{source_key}. Do not change it.
func CacheKey(sport Sport, sourceKey string) string {
	return fmt.Sprintf("%s_matches_%s", sport, sourceKey)
}

// LockKey is the fetch lock marker for a source.
func LockKey(sourceKey string) string {
	return "fetch_lock_" + sourceKey
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "|", " ")
	return strings.Join(strings.Fields(s), " ")
}
