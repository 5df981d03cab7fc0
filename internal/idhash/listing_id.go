package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// shortHashBytes is the number of SHA256 bytes kept in a short hash.
const shortHashBytes = 8

// ComputeListingID computes a listing_id for a newly inserted record.
// Formula: YYYYMMDD(createdAt, UTC) + "-" + ShortHash(sourceURL)
// Re-running the same URL on the same day yields the same ID.
func ComputeListingID(sourceURL string, createdAtMs int64) string {
	day := time.UnixMilli(createdAtMs).UTC().Format("20060102")
	return fmt.Sprintf("%s-%s", day, ShortHash(sourceURL))
}

// ShortHash returns a base58 encoding of the first 8 bytes of SHA256(s).
// Surrounding whitespace is ignored.
func ShortHash(s string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(s)))
	return base58.Encode(hash[:shortHashBytes])
}
