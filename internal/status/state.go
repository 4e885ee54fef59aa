package status

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Offline      State = "OFFLINE"
	Online       State = "ONLINE"
	Syncing      State = "SYNCING"
	Unauthorized State = "UNAUTHORIZED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Offline, Online, Error},
	Offline:      {Online, Unauthorized, Error},
	Online:       {Syncing, Offline, Unauthorized, Error},
	Syncing:      {Online, Offline, Unauthorized, Error},
	Unauthorized: {Online, Offline, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, map[string]string{
		"from": string(from),
		"to":   string(to),
	})
	return nil
}

// Follow drives the machine from bus events until ctx is done.
// Connectivity changes move between Online and Offline, an auth failure
// moves to Unauthorized, and a completed sync clears it.
func (m *Machine) Follow(ctx context.Context, b *bus.Bus) {
	ch, unsub := b.Subscribe("", 64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			m.apply(evt)
		}
	}
}

func (m *Machine) apply(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNetOnline:
		_ = m.Transition(Online)
	case bus.KindNetOffline:
		_ = m.Transition(Offline)
	case bus.KindAuthFailed:
		_ = m.Transition(Unauthorized)
	case bus.KindSyncCompleted, bus.KindMessageConfirmed:
		if m.Current() == Unauthorized {
			_ = m.Transition(Online)
		}
	}
}
