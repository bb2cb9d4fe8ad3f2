package stream

// State is the lifecycle position of a Subscription.
type State int

const (
	StateIdle        State = iota // Never opened.
	StateSubscribing              // Open called, channel not yet acknowledged.
	StateActive                   // Receiving push events.
	StateCompleted                // Channel reported completion.
	StateFailed                   // Open rejected or channel reported an error.
	StateTimedOut                 // Idle timeout fired before a terminal signal.
	StateClosed                   // Close called.
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further push events will be accepted.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateClosed:
		return true
	}
	return false
}
