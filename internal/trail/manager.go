// Package trail keeps a bounded, insertion-ordered position history per
// entity. Samples are appended in arrival order; a late sample with an older
// timestamp is not reordered.
package trail

import (
	"sort"
	"sync"

	"backend-bikefleet/internal/location"
)

const DefaultMaxLength = 50

// Reader is the read side handed to renderers.
type Reader interface {
	Get(entityID string) []location.Sample
	All() map[string][]location.Sample
	Len(entityID string) int
}

type Manager struct {
	mu        sync.RWMutex
	maxLength int
	trails    map[string]*ring
}

func NewManager(maxLength int) *Manager {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Manager{
		maxLength: maxLength,
		trails:    map[string]*ring{},
	}
}

func (m *Manager) MaxLength() int {
	return m.maxLength
}

// Append adds s to the entity's trail, evicting the oldest sample when full.
// Invalid coordinates are dropped and reported by returning false.
func (m *Manager) Append(entityID string, s location.Sample) bool {
	if entityID == "" || !s.Valid() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.trails[entityID]
	if !ok {
		r = newRing(m.maxLength)
		m.trails[entityID] = r
	}
	r.push(s)
	return true
}

// Get returns a copy of the trail, oldest first.
func (m *Manager) Get(entityID string) []location.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.trails[entityID]
	if !ok {
		return nil
	}
	return r.slice()
}

func (m *Manager) All() map[string][]location.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]location.Sample, len(m.trails))
	for id, r := range m.trails {
		result[id] = r.slice()
	}
	return result
}

func (m *Manager) Len(entityID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.trails[entityID]; ok {
		return r.size
	}
	return 0
}

// IDs returns the tracked entity ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.trails))
	for id := range m.trails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Clear(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trails, entityID)
}

func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trails = map[string]*ring{}
}

type ring struct {
	buf  []location.Sample
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]location.Sample, capacity)}
}

func (r *ring) push(s location.Sample) {
	if r.size == len(r.buf) {
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.size)%len(r.buf)] = s
	r.size++
}

func (r *ring) slice() []location.Sample {
	out := make([]location.Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
