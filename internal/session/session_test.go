package session

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestNewSession(t *testing.T) {
	s := New("main.js", 4269)
	if s.ID == "" {
		t.Fatal("New() returned a session without an ID")
	}
	if s.State() != Connecting {
		t.Errorf("new session state = %v, want connecting", s.State())
	}
	select {
	case <-s.Stopping():
		t.Error("new session is already stopping")
	default:
	}
	if New("main.js", 4269).ID == s.ID {
		t.Error("session IDs must be unique")
	}
}

func TestStopIsSingleShot(t *testing.T) {
	s := New("main.js", 4269)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Stop() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Stop() returned true %d times, want 1", winners)
	}
	select {
	case <-s.Stopping():
	default:
		t.Error("Stopping() channel not closed after Stop")
	}
}

func TestMarkDoneIdempotent(t *testing.T) {
	s := New("main.js", 4269)
	s.MarkDone()
	s.MarkDone()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after MarkDone")
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name string
		path []State
		want []bool
	}{
		{"normal lifecycle", []State{Running, Stopping, Idle}, []bool{true, true, true}},
		{"stop before spawn", []State{Stopping, Idle}, []bool{true, true}},
		{"no going back to running", []State{Stopping, Running}, []bool{true, false}},
		{"idle is final", []State{Idle, Running}, []bool{true, false}},
		{"no self transition", []State{Connecting}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("main.js", 4269)
			for i, to := range tt.path {
				if got := s.Advance(to); got != tt.want[i] {
					t.Errorf("step %d Advance(%v) = %v, want %v", i, to, got, tt.want[i])
				}
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	s := New("main.js", 4269)
	s.SetPID(1234)
	s.Advance(Running)

	snap := s.Snapshot()
	if snap.ID != s.ID || snap.ScriptPath != "main.js" || snap.Port != 4269 {
		t.Errorf("unexpected snapshot identity: %+v", snap)
	}
	if snap.PID != 1234 || snap.State != Running {
		t.Errorf("unexpected snapshot state: %+v", snap)
	}
	if snap.IsTerminal() {
		t.Error("running session reported terminal")
	}

	s.Advance(Stopping)
	s.SetError("boom")
	s.Advance(Idle)
	snap = s.Snapshot()
	if !snap.IsTerminal() {
		t.Error("idle session should be terminal")
	}
	if snap.Error != "boom" {
		t.Errorf("Error = %q, want boom", snap.Error)
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(Stopping)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"stopping"` {
		t.Errorf("Marshal(Stopping) = %s", data)
	}

	var st State
	if err := json.Unmarshal([]byte(`"running"`), &st); err != nil {
		t.Fatal(err)
	}
	if st != Running {
		t.Errorf("Unmarshal = %v, want running", st)
	}
	if State(99).String() != "unknown" {
		t.Errorf("State(99).String() = %q", State(99).String())
	}
}

func TestEventTypeString(t *testing.T) {
	if EventEnded.String() != "ended" || EventStarted.String() != "started" {
		t.Error("unexpected event type names")
	}
	if EventType(7).String() != "unknown" {
		t.Error("out of range event type should be unknown")
	}
}
