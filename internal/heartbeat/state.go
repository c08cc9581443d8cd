package heartbeat

import "fmt"

// State is the controller's view of the tracked snippet.
type State int

const (
	// Unbound means no snippet is tracked yet.
	Unbound State = iota
	// Tracking means a snippet is tracked and was last seen at LastModified.
	Tracking
	// Stale means the tracked snippet advanced and a reload is being sent.
	// It is only observable while a check is in progress.
	Stale
	// Missing means the tracked snippet could not be resolved. Checks are
	// suspended until a refresh request arrives.
	Missing
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Tracking:
		return "tracking"
	case Stale:
		return "stale"
	case Missing:
		return "missing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Tracked is the heartbeat-local record of what the runner shows.
type Tracked struct {
	ID           string
	LastModified int64
}
