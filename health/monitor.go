package health

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/udptelemetry/component"
)

// Monitor tracks health of multiple components in a thread-safe manner.
// Statuses are either pushed with Update or pulled from watched components
// on every Refresh.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	watched  map[string]component.Discoverable
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		watched:  make(map[string]component.Discoverable),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Watch adds c to the components polled by Refresh.
func (m *Monitor) Watch(name string, c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[name] = c
}

// Refresh pulls the current health of every watched component.
func (m *Monitor) Refresh() {
	m.mu.RLock()
	pulls := make(map[string]component.HealthStatus, len(m.watched))
	for name, c := range m.watched {
		pulls[name] = c.Health()
	}
	m.mu.RUnlock()

	for name, ch := range pulls {
		m.Update(name, FromComponentHealth(name, ch))
	}
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.watched, name)
}

// AggregateHealth refreshes watched components and returns the combined
// status, sub-statuses ordered by component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.Refresh()

	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(systemName, subStatuses)
}
