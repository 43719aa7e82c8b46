// Package store defines the persistence interface for the audio catalog.
package store

import (
	"context"
	"iter"

	"github.com/listenupapp/audiocache/internal/domain"
)

// AudioStore persists catalog records. Fingerprints are unique, and so are
// non-empty sources.
type AudioStore interface {
	// InsertAudioIfAbsent inserts rec unless a record with the same
	// fingerprint or source exists, in which case that record is returned
	// with inserted=false. The check and insert are one atomic statement.
	InsertAudioIfAbsent(ctx context.Context, rec *domain.AudioRecord) (existing *domain.AudioRecord, inserted bool, err error)

	GetAudio(ctx context.Context, id string) (*domain.AudioRecord, error)
	GetAudioBySource(ctx context.Context, source string) (*domain.AudioRecord, error)
	GetAudioByFingerprint(ctx context.Context, fingerprint string) (*domain.AudioRecord, error)
	GetAudioByIDs(ctx context.Context, ids []string) ([]*domain.AudioRecord, error)
	DeleteAudio(ctx context.Context, id string) error

	SearchAudio(ctx context.Context, filter domain.SearchFilter) ([]*domain.AudioRecord, error)
	StreamAudio(ctx context.Context) iter.Seq2[*domain.AudioRecord, error]
	CountAudio(ctx context.Context) (int, error)

	Close() error
}
