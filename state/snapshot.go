// Package state keeps the outcome of the most recent sampling cycle.
package state

import (
	"sync"
	"time"
)

// Snapshot is one completed cycle. Brightness is a float64 that may be
// non-finite, so it is carried as formatted text for JSON consumers.
type Snapshot struct {
	Cycle       uint64    `json:"cycle"`
	Timestamp   time.Time `json:"timestamp"`
	LightOK     bool      `json:"light_ok"`
	Raw         int       `json:"raw"`
	Brightness  string    `json:"brightness"`
	ClimateOK   bool      `json:"climate_ok"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Connected   bool      `json:"connected"`
}

type Store struct {
	mu        sync.RWMutex
	last      Snapshot
	has       bool
	listeners []func(Snapshot)
}

func NewStore() *Store {
	return &Store{}
}

// Subscribe adds a listener called synchronously on every Record.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) Record(snap Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.has = true
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Last returns false until the first cycle has been recorded.
func (s *Store) Last() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.has
}
