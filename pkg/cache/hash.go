package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashKey maps a key to a filesystem-safe name: 24 hex characters of its
// SHA-256.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:12])
}
