// Package domain holds the catalog's entities and value objects.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// AudioRecord is a catalog entry for one cached, normalized audio asset.
type AudioRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist,omitempty"`
	Duration    int       `json:"duration"` // whole seconds
	Sender      string    `json:"sender,omitempty"`
	Source      string    `json:"source,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasSource reports whether the record can be re-acquired from its origin.
func (r *AudioRecord) HasSource() bool {
	return r.Source != ""
}

// Fingerprint derives the deduplication key for declared metadata.
// Text fields are NFC-normalized and trimmed so visually identical input
// hashes the same. Absent artist and size contribute empty segments.
func Fingerprint(title, artist string, duration int, size *int64) string {
	var sizeStr string
	if size != nil {
		sizeStr = strconv.FormatInt(*size, 10)
	}

	parts := []string{
		norm.NFC.String(strings.TrimSpace(title)),
		norm.NFC.String(strings.TrimSpace(artist)),
		strconv.Itoa(duration),
		sizeStr,
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}

// SearchFilter narrows a catalog search. Zero values mean "no constraint".
type SearchFilter struct {
	Query       string `json:"q,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Artist      string `json:"artist,omitempty"`
	MinDuration int    `json:"min_duration,omitempty"`
	MaxDuration int    `json:"max_duration,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// DefaultSearchLimit caps searches that do not set a limit.
const DefaultSearchLimit = 50

// Normalize clamps pagination to sane bounds.
func (f *SearchFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = DefaultSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
