package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/listenupapp/audiocache/internal/domain"
	"github.com/listenupapp/audiocache/internal/store"
)

// audioColumns is the ordered list of columns selected in audio queries.
// Must match the scan order in scanAudio.
const audioColumns = `id, title, artist, duration, sender, source, fingerprint, created_at`

// scanAudio scans a sql.Row (or sql.Rows via its Scan method) into a domain.AudioRecord.
func scanAudio(scanner interface{ Scan(dest ...any) error }) (*domain.AudioRecord, error) {
	var (
		r         domain.AudioRecord
		createdAt string
	)

	err := scanner.Scan(
		&r.ID,
		&r.Title,
		&r.Artist,
		&r.Duration,
		&r.Sender,
		&r.Source,
		&r.Fingerprint,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &r, nil
}

// InsertAudioIfAbsent inserts rec unless its fingerprint or source is taken,
// in which case the holder of that key is returned with inserted=false.
func (s *Store) InsertAudioIfAbsent(ctx context.Context, rec *domain.AudioRecord) (*domain.AudioRecord, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audio (
			id, title, artist, duration, sender, source, fingerprint, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		rec.ID,
		rec.Title,
		rec.Artist,
		rec.Duration,
		rec.Sender,
		rec.Source,
		rec.Fingerprint,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return nil, false, mapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, mapError(err)
	}
	if n == 1 {
		return rec, true, nil
	}

	// Lost to an existing row; fingerprint takes precedence over source.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+audioColumns+` FROM audio
		WHERE fingerprint = ? OR (source != '' AND source = ?)
		ORDER BY fingerprint = ? DESC
		LIMIT 1`,
		rec.Fingerprint, rec.Source, rec.Fingerprint)

	existing, err := scanAudio(row)
	if err == sql.ErrNoRows {
		// The only remaining unique key is the id itself.
		return nil, false, store.ErrAlreadyExists.WithCause(fmt.Errorf("audio id %s taken", rec.ID))
	}
	if err != nil {
		return nil, false, mapError(err)
	}
	return existing, false, nil
}

// GetAudio retrieves a record by id.
// Returns store.ErrNotFound if the record does not exist.
func (s *Store) GetAudio(ctx context.Context, id string) (*domain.AudioRecord, error) {
	return s.getAudioBy(ctx, "id", id)
}

// GetAudioBySource retrieves the record created from source.
// Returns store.ErrNotFound for unknown or empty sources.
func (s *Store) GetAudioBySource(ctx context.Context, source string) (*domain.AudioRecord, error) {
	if source == "" {
		return nil, store.ErrNotFound
	}
	return s.getAudioBy(ctx, "source", source)
}

// GetAudioByFingerprint retrieves the record owning fingerprint.
func (s *Store) GetAudioByFingerprint(ctx context.Context, fingerprint string) (*domain.AudioRecord, error) {
	return s.getAudioBy(ctx, "fingerprint", fingerprint)
}

func (s *Store) getAudioBy(ctx context.Context, column, value string) (*domain.AudioRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+audioColumns+` FROM audio WHERE `+column+` = ?`, value)

	rec, err := scanAudio(row)
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

// GetAudioByIDs returns the records for ids in the order given. Unknown ids
// are skipped.
func (s *Store) GetAudioByIDs(ctx context.Context, ids []string) ([]*domain.AudioRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+audioColumns+` FROM audio WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.AudioRecord, len(ids))
	for rows.Next() {
		rec, err := scanAudio(rows)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	out := make([]*domain.AudioRecord, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteAudio removes a record.
// Returns store.ErrNotFound if the record does not exist.
func (s *Store) DeleteAudio(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audio WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SearchAudio filters records by substring query, sender, artist and
// duration bounds, newest first.
func (s *Store) SearchAudio(ctx context.Context, filter domain.SearchFilter) ([]*domain.AudioRecord, error) {
	filter.Normalize()

	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(artist) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if filter.Sender != "" {
		where = append(where, "sender = ?")
		args = append(args, filter.Sender)
	}
	if filter.Artist != "" {
		where = append(where, "lower(artist) = lower(?)")
		args = append(args, filter.Artist)
	}
	if filter.MinDuration > 0 {
		where = append(where, "duration >= ?")
		args = append(args, filter.MinDuration)
	}
	if filter.MaxDuration > 0 {
		where = append(where, "duration <= ?")
		args = append(args, filter.MaxDuration)
	}

	query := `SELECT ` + audioColumns + ` FROM audio`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*domain.AudioRecord
	for rows.Next() {
		rec, err := scanAudio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// StreamAudio yields every record ordered by id.
func (s *Store) StreamAudio(ctx context.Context) iter.Seq2[*domain.AudioRecord, error] {
	return func(yield func(*domain.AudioRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+audioColumns+` FROM audio ORDER BY id`)
		if err != nil {
			yield(nil, mapError(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			rec, err := scanAudio(rows)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, mapError(err))
		}
	}
}

// CountAudio returns the number of records.
func (s *Store) CountAudio(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audio`).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
