package connsvc

import (
	"sync"

	"github.com/trezcool/maendeleo/core/offline"
)

// Manual is a connectivity source toggled by its host: tests, or an
// embedding application that already tracks network state.
type Manual struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

var _ offline.Connectivity = (*Manual)(nil)

func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set flips the state; subscribers fire only on actual transitions.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func (m *Manual) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
