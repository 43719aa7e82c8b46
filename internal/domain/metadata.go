package domain

// SourceMetadata is what resolution learned about a source.
// A nil field means the value is absent, which is distinct from empty or zero.
type SourceMetadata struct {
	Title    *string `json:"title,omitempty"`
	Artist   *string `json:"artist,omitempty"`
	Duration *int    `json:"duration,omitempty"`
	Size     *int64  `json:"size,omitempty"`
}

// Merge returns m with every field present in hints overriding it.
// A non-positive hinted duration or size counts as not supplied.
func (m SourceMetadata) Merge(hints SourceMetadata) SourceMetadata {
	out := m
	if hints.Title != nil {
		out.Title = hints.Title
	}
	if hints.Artist != nil {
		out.Artist = hints.Artist
	}
	if hints.Duration != nil && *hints.Duration > 0 {
		out.Duration = hints.Duration
	}
	if hints.Size != nil && *hints.Size > 0 {
		out.Size = hints.Size
	}
	return out
}

// HasDuration reports whether a positive duration is known.
func (m SourceMetadata) HasDuration() bool {
	return m.Duration != nil && *m.Duration > 0
}

// TitleOrEmpty returns the title, or "" when absent.
func (m SourceMetadata) TitleOrEmpty() string {
	if m.Title == nil {
		return ""
	}
	return *m.Title
}

// ArtistOrEmpty returns the artist, or "" when absent.
func (m SourceMetadata) ArtistOrEmpty() string {
	if m.Artist == nil {
		return ""
	}
	return *m.Artist
}

// Ptr returns a pointer to v. Handy for building metadata literals.
func Ptr[T any](v T) *T {
	return &v
}
