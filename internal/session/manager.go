package session

import "sync"

// Manager tracks the active session id, the partition queries default to
// when a caller does not name one explicitly. Writes happen on load,
// reads on every routed query.
type Manager struct {
	mu      sync.RWMutex
	current string
}

func NewManager() *Manager {
	return &Manager{}
}

// SetCurrent marks sessionID as the active partition.
func (m *Manager) SetCurrent(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sessionID
}

// Current returns the active session id, empty when nothing is loaded.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
