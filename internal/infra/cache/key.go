package cache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// keyDigestLen is the number of hex characters of the digest kept in a key.
const keyDigestLen = 32

// Key derives the storage key for an already normalized URL:
// prefix + the first 32 hex characters of blake3-256(url).
func Key(prefix, normalizedURL string) string {
	sum := blake3.Sum256([]byte(normalizedURL))
	return prefix + hex.EncodeToString(sum[:])[:keyDigestLen]
}
