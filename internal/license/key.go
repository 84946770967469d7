package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyBytes of randomness render as 2*keyBytes hex characters.
const keyBytes = 16

// GenerateKey returns 32 uppercase hex characters drawn from crypto/rand.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
