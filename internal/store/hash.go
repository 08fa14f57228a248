package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// HashChunkContent computes SHA-256 of an evidence chunk's kind, locator and
// text for deduplication within a source.
//
// Including the locator means the same text found in two sheet ranges creates
// two separate chunks (different provenance).
func HashChunkContent(kind ChunkKind, text string, locator map[string]string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0}) // separator

	keys := make([]string, 0, len(locator))
	for k := range locator {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(locator[k]))
		h.Write([]byte{0})
	}

	h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum(nil))
}
