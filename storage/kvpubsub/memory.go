package kvpubsub

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryPubSub is an in-process fake PubSub for unit tests that exercise
// engine/aggregate/engine/retrieve without a live Redis instance, following
// the same in-memory-fake pattern as storage/graph.MemoryStore and
// storage/vector.MemoryStore.
type MemoryPubSub struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	subs      map[string]map[int]func(context.Context, json.RawMessage)
	published map[string][]json.RawMessage
}

// NewMemoryPubSub returns a ready-to-use fake pub/sub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		subs:      make(map[string]map[int]func(context.Context, json.RawMessage)),
		published: make(map[string][]json.RawMessage),
	}
}

func (m *MemoryPubSub) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryPubSub) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryPubSub) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryPubSub) Publish(ctx context.Context, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.published[channel] = append(m.published[channel], data)
	cbs := make([]func(context.Context, json.RawMessage), 0, len(m.subs[channel]))
	for _, cb := range m.subs[channel] {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(ctx, data)
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string, cb func(context.Context, json.RawMessage)) (func(), error) {
	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]func(context.Context, json.RawMessage))
	}
	id := m.nextID
	m.nextID++
	m.subs[channel][id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[channel], id)
		m.mu.Unlock()
	}, nil
}

// Published returns every message published to channel, for test assertions.
func (m *MemoryPubSub) Published(channel string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.published[channel]...)
}
