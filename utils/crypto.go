package utils

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const fingerprintLength = 12

// TokenFingerprint returns a short, stable BLAKE2b digest identifying a bot
// token in logs and health output without revealing it. Empty input yields "".
func TokenFingerprint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
