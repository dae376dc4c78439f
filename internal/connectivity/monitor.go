// Package connectivity turns a platform network-state signal into an
// "is online" predicate with change notifications.
package connectivity

import "sync"

// Monitor tracks connectivity. Until the first signal arrives it reports
// connected, so a missing platform signal never blocks requests.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners []listener
}

type listener struct {
	id int
	fn func(online bool)
}

func NewMonitor() *Monitor {
	return &Monitor{online: true}
}

// IsConnected reports the last known state.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set feeds a platform observation. Listeners run only on transitions, in
// registration order, on the caller's goroutine.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, l := range m.listeners {
		fns = append(fns, l.fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// OnChange registers fn and returns a function that unregisters it.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}
