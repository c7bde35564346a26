package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a main-script session.
type State int

const (
	Idle State = iota
	Connecting
	Running
	Stopping
)

var stateNames = map[State]string{
	Idle:       "idle",
	Connecting: "connecting",
	Running:    "running",
	Stopping:   "stopping",
}

var stateFromName = map[string]State{
	"idle":       Idle,
	"connecting": Connecting,
	"running":    Running,
	"stopping":   Stopping,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// canAdvance reports whether a session may move from one state to another.
// Sessions only move forward; Stopping may be entered from Connecting when a
// stop arrives before the process exists.
func canAdvance(from, to State) bool {
	switch from {
	case Connecting:
		return to == Running || to == Stopping || to == Idle
	case Running:
		return to == Stopping || to == Idle
	case Stopping:
		return to == Idle
	}
	return false
}

// Snapshot is a point-in-time copy of a session, safe to retain and encode.
type Snapshot struct {
	ID         string     `json:"id"`
	ScriptPath string     `json:"scriptPath"`
	Port       int        `json:"port"`
	State      State      `json:"state"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// IsTerminal reports whether the session has finished.
func (s *Snapshot) IsTerminal() bool {
	return s.EndedAt != nil
}
