package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortHashLength is the number of hex characters kept by ShortHash.
const shortHashLength = 16

// ShortHash returns a truncated SHA-256 hex digest of value. It is the only
// form in which secrets are ever logged or persisted alongside other data.
func ShortHash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:shortHashLength]
}
