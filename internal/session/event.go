package session

// EventType classifies session lifecycle events.
type EventType int

const (
	EventStarted EventType = iota // session created by Start
	EventState                    // state transition
	EventEnded                    // process terminated and completion dispatched
)

var eventTypeNames = [...]string{"started", "state", "ended"}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event carries a session snapshot to observers.
type Event struct {
	Type     EventType
	Snapshot Snapshot // copy, safe to retain
}
