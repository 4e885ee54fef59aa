// Package connectivity tracks whether the remote service is reachable.
package connectivity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Listener is notified with the new state on every transition.
type Listener = func(online bool)

// Monitor holds the current online state and notifies listeners only when
// it changes.
type Monitor struct {
	bus    *bus.Bus
	logger *zap.Logger

	// setMu serializes Set so listeners observe transitions in order.
	setMu sync.Mutex

	mu        sync.RWMutex
	online    bool
	listeners map[int]Listener
	next      int
}

// NewMonitor creates a monitor starting in the given state. bus may be nil.
func NewMonitor(initial bool, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		bus:       b,
		logger:    logger,
		online:    initial,
		listeners: make(map[int]Listener),
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for future transitions. The returned func removes
// it and may be called any number of times.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Set records the observed state. Listeners run synchronously, and only
// when the state actually changed. It reports whether a transition
// happened.
func (m *Monitor) Set(online bool) bool {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	kind := bus.KindNetOffline
	if online {
		kind = bus.KindNetOnline
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))
	m.bus.Emit(kind, nil)

	for _, fn := range fns {
		m.notify(fn, online)
	}
	return true
}

func (m *Monitor) notify(fn Listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", zap.Any("panic", r))
		}
	}()
	fn(online)
}
