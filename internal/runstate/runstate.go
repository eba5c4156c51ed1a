// Package runstate holds the status of the most recent evaluation.
package runstate

import (
	"sync"
)

// State is the status of an evaluation run.
type State int

const (
	Idle    State = iota // Nothing has run yet
	Running              // A run is in progress
	Done                 // The last run completed
	Failed               // The last run ended with an error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Store holds exactly one live State. The last Set wins. It is safe for
// concurrent use; subscribers are called synchronously, in Set order, with
// the store unlocked.
type Store struct {
	mu    sync.Mutex
	emit  sync.Mutex
	state State
	subs  map[int]func(State)
	next  int
}

// NewStore returns a store in the Idle state.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// Get returns the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the current state and notifies subscribers.
func (s *Store) Set(st State) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	s.state = st
	subs := make([]func(State), 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// Subscribe registers fn for every later Set and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
