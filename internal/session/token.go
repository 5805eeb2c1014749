// ABOUTME: Resume token generation and comparison.
// ABOUTME: Tokens are 256 bits from crypto/rand, checked in constant time.

package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// newResumeToken mints a fresh resume token. The token is the actual
// reconnection capability, so it is never derived from the session id or
// the clock.
func newResumeToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating resume token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// tokenMatches compares a presented token against the stored one without
// leaking timing information.
func tokenMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
