package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the main script. The stop and done signals are
// single-shot: once closed they stay closed for the life of the session.
type Session struct {
	ID         string
	ScriptPath string
	Port       int
	StartedAt  time.Time

	mu      sync.Mutex
	state   State
	pid     int
	endedAt *time.Time
	err     string

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a session in the Connecting state.
func New(scriptPath string, port int) *Session {
	return &Session{
		ID:         uuid.New().String(),
		ScriptPath: scriptPath,
		Port:       port,
		StartedAt:  time.Now(),
		state:      Connecting,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Stop clears the should-run flag. It returns true only for the call that
// actually cleared it.
func (s *Session) Stop() bool {
	stopped := false
	s.stopOnce.Do(func() {
		close(s.stop)
		stopped = true
	})
	return stopped
}

// Stopping is closed once the should-run flag has been cleared.
func (s *Session) Stopping() <-chan struct{} {
	return s.stop
}

// MarkDone closes the done signal.
func (s *Session) MarkDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed after the session has fully ended and its completion
// callback has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Advance moves the session to state to if the transition is legal.
func (s *Session) Advance(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canAdvance(s.state, to) {
		return false
	}
	s.state = to
	if to == Idle {
		now := time.Now()
		s.endedAt = &now
	}
	return true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

// SetError records a terminal error message for the session.
func (s *Session) SetError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.ID,
		ScriptPath: s.ScriptPath,
		Port:       s.Port,
		State:      s.state,
		PID:        s.pid,
		StartedAt:  s.StartedAt,
		Error:      s.err,
	}
	if s.endedAt != nil {
		t := *s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
