package watcher

import "time"

// EventType is the kind of change observed.
type EventType int

const (
	// EventAdded is emitted when a file appears and has stopped changing.
	EventAdded EventType = iota
	// EventRemoved is emitted when a file is gone and stays gone for the
	// settle delay. Renames away from a watched name count as removals.
	EventRemoved
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a settled file system change.
type Event struct {
	Type EventType
	Path string
	// Size and ModTime are set for EventAdded.
	Size    int64
	ModTime time.Time
}
