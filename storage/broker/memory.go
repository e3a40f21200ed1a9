package broker

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process fake Broker for unit tests, bypassing NATS
// entirely. Send appends to an in-memory log per subject; Subscribe drains
// that log synchronously on each Send (no goroutine, no queue semantics) —
// good enough for exercising Ingestor/Parser/Aggregator wiring without a
// live broker.
type MemoryBroker struct {
	mu        sync.Mutex
	connected bool
	sent      map[Subject][]KeyedMessage
	handlers  map[Subject][]func(context.Context, []byte) error
}

// NewMemoryBroker returns a ready-to-use fake broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		sent:     make(map[Subject][]KeyedMessage),
		handlers: make(map[Subject][]func(context.Context, []byte) error),
	}
}

func (m *MemoryBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryBroker) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryBroker) Send(ctx context.Context, subject Subject, msgs []KeyedMessage) error {
	m.mu.Lock()
	m.sent[subject] = append(m.sent[subject], msgs...)
	hs := append([]func(context.Context, []byte) error(nil), m.handlers[subject]...)
	m.mu.Unlock()

	for _, msg := range msgs {
		for _, h := range hs {
			if err := h(ctx, msg.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MemoryBroker) Subscribe(ctx context.Context, subject Subject, group string, handler func(context.Context, []byte) error) (func(), error) {
	m.mu.Lock()
	m.handlers[subject] = append(m.handlers[subject], handler)
	idx := len(m.handlers[subject]) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.handlers[subject]) {
			m.handlers[subject][idx] = func(context.Context, []byte) error { return nil }
		}
	}, nil
}

func (m *MemoryBroker) AwaitConsumerGroupReady(ctx context.Context, subject Subject, group string, minMembers int) error {
	return nil
}

// Sent returns every message published to subject, for test assertions.
func (m *MemoryBroker) Sent(subject Subject) []KeyedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KeyedMessage(nil), m.sent[subject]...)
}
