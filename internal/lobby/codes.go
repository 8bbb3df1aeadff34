// internal/lobby/codes.go
package lobby

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// LobbyCodeAlphabet omits visually ambiguous glyphs (0/O, 1/I/L pairs keep
// only the letter forms that survive transcription).
const LobbyCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// LobbyCodeLength is the length of a generated lobby code.
const LobbyCodeLength = 6

// codeRetryLimit is how many collision retries run before falling back to
// a hex prefix of a fresh random id.
const codeRetryLimit = 10

// randomCode draws LobbyCodeLength characters from LobbyCodeAlphabet. The
// alphabet length divides 256, so the byte modulo is unbiased.
func randomCode() (string, error) {
	buf := make([]byte, LobbyCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, LobbyCodeLength)
	for i, b := range buf {
		out[i] = LobbyCodeAlphabet[int(b)%len(LobbyCodeAlphabet)]
	}
	return string(out), nil
}

// fallbackCode is the collision fallback: the first six uppercase hex
// characters of a fresh random 128-bit value.
func fallbackCode() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:3]))
}
