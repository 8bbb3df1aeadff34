// internal/lobby/sanitize_test.go
package lobby

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", SanitizeDisplayName("  Alice  "))
	assert.Equal(t, "AB", SanitizeDisplayName("A\x00\x07B"))
	assert.Equal(t, "A\tB", SanitizeDisplayName("A\tB"))
	assert.Equal(t, "A\r\nB", SanitizeDisplayName("A\r\nB"))
	assert.Equal(t, strings.Repeat("x", MaxDisplayNameLen),
		SanitizeDisplayName(strings.Repeat("x", MaxDisplayNameLen+20)))
	assert.Equal(t, "", SanitizeDisplayName("\x1b\x1b"))
}

func TestSanitizeDisplayNameMultibyte(t *testing.T) {
	name := strings.Repeat("ü", MaxDisplayNameLen+5)
	got := SanitizeDisplayName(name)
	assert.Equal(t, MaxDisplayNameLen, len([]rune(got)), "truncation counts runes, not bytes")
}

func TestSanitizeKeyValue(t *testing.T) {
	assert.Equal(t, "mode", sanitizeKey("  mode "))
	assert.Equal(t, "", sanitizeKey("   "))
	assert.Equal(t, strings.Repeat("k", MaxKeyLen), sanitizeKey(strings.Repeat("k", MaxKeyLen*2)))
	assert.Equal(t, strings.Repeat("v", MaxValueLen), sanitizeValue(strings.Repeat("v", MaxValueLen+1)))
	assert.Equal(t, " padded ", sanitizeValue(" padded "), "values keep surrounding whitespace")
}

func TestClamps(t *testing.T) {
	assert.Equal(t, MinPlayers, clampMaxPlayers(1))
	assert.Equal(t, MinPlayers, clampMaxPlayers(-3))
	assert.Equal(t, 8, clampMaxPlayers(8))
	assert.Equal(t, MaxPlayersCap, clampMaxPlayers(1000))

	assert.Equal(t, 1, clampMaxRooms(0))
	assert.Equal(t, 50, clampMaxRooms(50))
	assert.Equal(t, MaxSearchRooms, clampMaxRooms(500))
}
