package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status of every probed dependency
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// Update replaces the status for name
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Name = name
	if status.Timestamp.IsZero() {
		status.Timestamp = m.now()
	}
	m.statuses[name] = status
}

// RecordProbe stores a probe outcome and carries the failure streak and last
// success time forward from the previous status
func (m *Monitor) RecordProbe(name string, err error, latency time.Duration) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	status := FromProbe(name, err, latency)
	status.Timestamp = now

	var prev ProbeMetrics
	if old, ok := m.statuses[name]; ok && old.Probe != nil {
		prev = *old.Probe
	}
	if err == nil {
		status.Probe.LastSuccess = now
	} else {
		status.Probe.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		status.Probe.LastSuccess = prev.LastSuccess
	}

	m.statuses[name] = status
	return status
}

// Get returns the status for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// AllHealthy reports whether every recorded dependency is healthy.
// An empty monitor is healthy.
func (m *Monitor) AllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, status := range m.statuses {
		if !status.IsHealthy() {
			return false
		}
	}
	return true
}

// AggregateHealth folds every recorded status into one
func (m *Monitor) AggregateHealth(name string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	return Aggregate(name, subStatuses)
}

// Names returns the recorded dependency names, sorted
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
