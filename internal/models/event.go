package models

// EventType classifies a filesystem change notification.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventMoved
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is a path-level change notification from the change source.
// For EventMoved, OldPath is the source path and Path the destination;
// for all other types OldPath is empty.
type Event struct {
	Type    EventType
	Path    string
	OldPath string
}
