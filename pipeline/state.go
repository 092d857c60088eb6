// Package pipeline tracks the lifecycle of the log-shipping pipeline.
//
// State is owned by the monitor. Every other reader, such as the health
// server, works from Snapshot copies.
package pipeline

import (
	"sync"
	"time"
)

// Snapshot is an immutable copy of the pipeline state
type Snapshot struct {
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	Ready     bool      `json:"ready"`
}

// Uptime returns the time since start, or zero if the pipeline is not running
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if !s.Running || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// State holds the liveness and readiness flags of the pipeline.
// A new State is neither running nor ready.
type State struct {
	mu        sync.RWMutex
	startedAt time.Time
	running   bool
	ready     bool
	now       func() time.Time
}

// NewState creates a stopped, not-ready pipeline state
func NewState() *State {
	return &State{now: time.Now}
}

// Start marks the pipeline as running and records the start time.
// Calling Start on a running pipeline keeps the original start time.
func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.startedAt = s.now()
}

// MarkReady sets the ready flag. It has no effect unless the pipeline is running.
func (s *State) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.ready = true
	}
}

// MarkNotReady clears the ready flag only
func (s *State) MarkNotReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
}

// Stop clears both flags
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.ready = false
}

// IsRunning reports whether the ingestion loop is active
func (s *State) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IsReady reports whether the last health check found every dependency reachable
func (s *State) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Uptime returns the time since Start, or zero when stopped
func (s *State) Uptime() time.Duration {
	return s.Snapshot().Uptime(s.now())
}

// Snapshot returns a consistent copy of the state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		StartedAt: s.startedAt,
		Running:   s.running,
		Ready:     s.ready,
	}
}
