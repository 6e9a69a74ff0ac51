// Package ident derives deterministic identifiers for graph records.
// Ids are content-addressed so that re-indexing identical content converges
// on the same nodes instead of appending duplicates.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// hashLen is the number of hex characters kept from the SHA-256 digest.
// 16 chars = 64 bits, enough to make collisions within one index negligible.
const hashLen = 16

// FileID returns the stable id for a file node, derived from its path.
// The same path always yields the same id, across restarts and re-indexes.
func FileID(path string) string {
	return "file-" + truncatedHash(path)
}

// ChunkID returns the content-addressed id for a file chunk.
// It hashes (path, index, text) so re-indexing unchanged content yields the
// same id, while an edit to the chunk text produces a new one.
func ChunkID(path string, index int, text string) string {
	return "chunk-" + truncatedHash(fmt.Sprintf("%s#%d#%s", path, index, text))
}

// SubscriptionID returns the stable id for a subscription rooted at path.
func SubscriptionID(root string) string {
	return "sub-" + truncatedHash(root)
}

// truncatedHash returns the first hashLen hex chars of SHA-256(s).
func truncatedHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
