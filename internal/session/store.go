package session

import (
	"sort"
	"sync"
)

const defaultHistory = 50

// Store keeps snapshots of the current and recently finished sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Snapshot
	limit    int
}

func NewStore() *Store {
	return NewStoreWithLimit(defaultHistory)
}

// NewStoreWithLimit creates a store that retains at most limit sessions,
// evicting the oldest finished ones first.
func NewStoreWithLimit(limit int) *Store {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &Store{
		sessions: make(map[string]*Snapshot),
		limit:    limit,
	}
}

func (s *Store) Get(id string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copy := *st
	return &copy, true
}

// GetAll returns every retained session, newest first.
func (s *Store) GetAll() []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Snapshot, 0, len(s.sessions))
	for _, st := range s.sessions {
		copy := *st
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

// Current returns the session that has not ended yet, if any.
func (s *Store) Current() (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.sessions {
		if !st.IsTerminal() {
			copy := *st
			return &copy, true
		}
	}
	return nil, false
}

// Update records snap. A session that has already finished keeps its final
// snapshot; later non-terminal snapshots of it are ignored.
func (s *Store) Update(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.sessions[snap.ID]; ok && prev.IsTerminal() && !snap.IsTerminal() {
		return
	}
	s.sessions[snap.ID] = &snap
	s.evict()
}

// evict drops the oldest finished sessions beyond the limit. Caller holds mu.
func (s *Store) evict() {
	if len(s.sessions) <= s.limit {
		return
	}
	finished := make([]*Snapshot, 0, len(s.sessions))
	for _, st := range s.sessions {
		if st.IsTerminal() {
			finished = append(finished, st)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for _, st := range finished {
		if len(s.sessions) <= s.limit {
			return
		}
		delete(s.sessions, st.ID)
	}
}
