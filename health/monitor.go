package health

import (
	"sort"
	"sync"
)

// Probe reports the current health of one component. Probes are called on
// every Check and must not block.
type Probe func() Status

// Monitor evaluates registered probes. It is safe for concurrent use.
type Monitor struct {
	name string

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewMonitor creates a monitor whose aggregate status is reported under
// name.
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:   name,
		probes: make(map[string]Probe),
	}
}

// Register adds or replaces the probe for component.
func (m *Monitor) Register(component string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
}

// Remove drops the probe for component.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, component)
}

// Components returns the registered component names in order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe and aggregates the results. Sub-statuses are
// ordered by component name.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		s := probes[name]()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(m.name, subs)
}

// Healthy adapts Check to the metrics server's health callback. Degraded
// counts as healthy so a reconnecting client does not fail liveness checks.
func (m *Monitor) Healthy() (bool, string) {
	s := m.Check()
	return !s.IsUnhealthy(), s.Message
}
