// internal/lobby/sanitize.go
package lobby

import (
	"strings"
	"unicode"
)

const (
	// MinPlayers and MaxPlayersCap bound the maxPlayers setting of a lobby.
	MinPlayers    = 2
	MaxPlayersCap = 64

	// MaxProperties caps the number of distinct property keys per lobby.
	MaxProperties = 32
	// MaxKeyLen and MaxValueLen bound property keys and values; longer
	// inputs are truncated, not rejected.
	MaxKeyLen   = 64
	MaxValueLen = 256

	// MaxDisplayNameLen bounds sanitized display names.
	MaxDisplayNameLen = 64

	// MaxSearchRooms bounds a single search result page.
	MaxSearchRooms = 100

	// MaxTokenLen bounds the raw bearer accepted by engine operations.
	MaxTokenLen = 4096
)

// clampMaxPlayers forces the requested capacity into [MinPlayers, MaxPlayersCap].
func clampMaxPlayers(n int) int {
	if n < MinPlayers {
		return MinPlayers
	}
	if n > MaxPlayersCap {
		return MaxPlayersCap
	}
	return n
}

// clampMaxRooms forces a search page size into [1, MaxSearchRooms].
func clampMaxRooms(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxSearchRooms {
		return MaxSearchRooms
	}
	return n
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		// Fast path: byte length bounds rune length.
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SanitizeDisplayName trims whitespace, drops control characters except
// tab/CR/LF, and truncates to MaxDisplayNameLen runes.
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\r' && r != '\n' {
			return -1
		}
		return r
	}, name)
	return truncateRunes(name, MaxDisplayNameLen)
}

// sanitizeKey trims whitespace and truncates a property key to MaxKeyLen
// runes. The result may be empty; callers reject empty keys.
func sanitizeKey(key string) string {
	return truncateRunes(strings.TrimSpace(key), MaxKeyLen)
}

// sanitizeValue truncates a property value to MaxValueLen runes.
func sanitizeValue(value string) string {
	return truncateRunes(value, MaxValueLen)
}
