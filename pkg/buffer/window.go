// Package buffer provides a generic fixed-capacity sliding window.
//
// The window never grows past its capacity. Writing to a full window
// overwrites the oldest item, so a Snapshot always holds the most recent
// items in write order.
package buffer

import "sync"

// Window retains the last Cap() items written. Safe for concurrent use.
type Window[T any] struct {
	mu     sync.RWMutex
	items  []T
	head   int // next write position
	size   int
	writes int64
	drops  int64
}

// Stats counts window activity since creation
type Stats struct {
	Writes int64
	Drops  int64
}

// DropRate returns drops divided by writes (0.0 to 1.0)
func (s Stats) DropRate() float64 {
	if s.Writes == 0 {
		return 0
	}
	return float64(s.Drops) / float64(s.Writes)
}

// NewWindow creates a window holding up to capacity items. A capacity below
// one is raised to one.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{items: make([]T, capacity)}
}

// Write appends item, evicting the oldest item when the window is full
func (w *Window[T]) Write(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writes++
	if w.size == len(w.items) {
		w.drops++
	} else {
		w.size++
	}
	w.items[w.head] = item
	w.head = (w.head + 1) % len(w.items)
}

// Snapshot copies the retained items, oldest first
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]T, w.size)
	start := (w.head - w.size + len(w.items)) % len(w.items)
	for i := range out {
		out[i] = w.items[(start+i)%len(w.items)]
	}
	return out
}

func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *Window[T]) Cap() int {
	return len(w.items)
}

func (w *Window[T]) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{Writes: w.writes, Drops: w.drops}
}
