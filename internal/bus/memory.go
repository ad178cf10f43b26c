package bus

import (
	"errors"
	"sync"

	"github.com/loqalabs/hermes-tts/internal/protocol"
)

var errClosed = errors.New("bus closed")

// Memory is an in-process broker with MQTT wildcard semantics. Publish
// delivers synchronously on the caller's goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[int]memorySub
	nextID int
	closed bool
}

type memorySub struct {
	pattern string
	handler Handler
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[int]memorySub)}
}

func (m *Memory) Subscribe(topic string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = memorySub{pattern: topic, handler: h}
	return &memorySubscription{bus: m, id: id}, nil
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed
	}
	var handlers []Handler
	for id := 0; id < m.nextID; id++ {
		sub, ok := m.subs[id]
		if ok && protocol.TopicMatches(sub.pattern, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (m *Memory) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int]memorySub)
}

type memorySubscription struct {
	bus *Memory
	id  int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
