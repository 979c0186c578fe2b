package feed

import (
	"context"
	"sync"
)

// MemorySource is an in-process feed. Publish and Fail deliver synchronously
// to every subscriber in registration order.
type MemorySource struct {
	channel  Channel
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

func NewMemorySource(channel Channel) *MemorySource {
	return &MemorySource{
		channel:  channel,
		handlers: map[int]Handler{},
	}
}

func (m *MemorySource) Channel() Channel {
	return m.channel
}

func (m *MemorySource) Subscribe(_ context.Context, handle Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.handlers[id] = handle
	m.order = append(m.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.handlers, id)
			for i, v := range m.order {
				if v == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
		})
	}, nil
}

func (m *MemorySource) Publish(snap Snapshot) {
	m.deliver(Event{Channel: m.channel, Snapshot: snap})
}

func (m *MemorySource) Fail(err error) {
	if err == nil {
		err = ErrChannelDown
	}
	m.deliver(Event{Channel: m.channel, Err: err})
}

func (m *MemorySource) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *MemorySource) deliver(ev Event) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.order))
	for _, id := range m.order {
		handlers = append(handlers, m.handlers[id])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
