// Package search provides full-text search over catalog records using Bleve.
package search

import (
	"strings"

	"github.com/listenupapp/audiocache/internal/domain"
)

// AudioDocument is the indexed form of a catalog record.
type AudioDocument struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Duration  int    `json:"duration"`   // seconds
	CreatedAt int64  `json:"created_at"` // Unix millis
}

// NewAudioDocument builds the document for rec.
func NewAudioDocument(rec *domain.AudioRecord) *AudioDocument {
	return &AudioDocument{
		ID:        rec.ID,
		Title:     rec.Title,
		Artist:    rec.Artist,
		Sender:    rec.Sender,
		Duration:  rec.Duration,
		CreatedAt: rec.CreatedAt.UnixMilli(),
	}
}

// ToMap converts the document to a map with the field names used by the
// index mapping.
func (d *AudioDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"title":      d.Title,
		"duration":   d.Duration,
		"created_at": d.CreatedAt,
	}
	if d.Artist != "" {
		m["artist"] = d.Artist
		m["artist_exact"] = strings.ToLower(d.Artist)
	}
	if d.Sender != "" {
		m["sender"] = d.Sender
	}
	return m
}
