package scrape

import (
	"crypto/sha256"
	"encoding/hex"
)

// URLHash returns the hex sha-256 digest of a URL (64 chars, matching the
// content_hash column width). Only video items carry one; URL equality is
// the dedup key for every content type.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
