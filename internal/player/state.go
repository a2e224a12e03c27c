package player

// State is a playback session's lifecycle state
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateStreaming: "streaming",
	StateDraining:  "draining",
	StateCompleted: "completed",
	StateCancelled: "cancelled",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON reports
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition can leave s
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// transitions lists the allowed moves. Cancelled and failed are reachable
// from every non-terminal state.
var transitions = map[State][]State{
	StateIdle:      {StateStreaming, StateCancelled, StateFailed},
	StateStreaming: {StateDraining, StateCancelled, StateFailed},
	StateDraining:  {StateCompleted, StateCancelled, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
