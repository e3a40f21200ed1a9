// Package kvpubsub is the Redis-backed pub/sub and rate-limit-counter
// facade (spec.md §4.7): publish(channel, msg)/subscribe(channel, cb), plus
// SlidingWindowLimiter, a Redis-backed sliding-window counter for
// cost-attributed rate limiting.
package kvpubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PubSub is the capability interface the observatory subjects
// (observatory.session.<id>.updates, observatory.sessions.updates,
// observatory.consumers.status) are published and consumed through.
type PubSub interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	Publish(ctx context.Context, channel string, msg any) error

	// Subscribe registers cb for every message on channel. cb fires with
	// the parsed JSON payload; a parse error is logged and does not kill
	// the subscription. The returned unsubscribe is idempotent; the
	// underlying Redis subscription is torn down only once every caller
	// of Subscribe(channel) has called its unsubscribe.
	Subscribe(ctx context.Context, channel string, cb func(context.Context, json.RawMessage)) (unsubscribe func(), err error)
}

// RedisPubSub is the Redis-backed PubSub implementation.
type RedisPubSub struct {
	client *redis.Client
	log    *slog.Logger

	mu          sync.Mutex
	connected   bool
	subsByTopic map[string]*topicSub
}

type topicSub struct {
	sub       *redis.PubSub
	cancel    context.CancelFunc
	callbacks map[int]func(context.Context, json.RawMessage)
	nextID    int
}

// NewRedisPubSub wraps an already-constructed client.
func NewRedisPubSub(client *redis.Client, log *slog.Logger) *RedisPubSub {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPubSub{client: client, log: log, subsByTopic: make(map[string]*topicSub)}
}

func (r *RedisPubSub) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kvpubsub: connect: %w", err)
	}
	r.connected = true
	return nil
}

func (r *RedisPubSub) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil
	}
	for topic, ts := range r.subsByTopic {
		ts.cancel()
		_ = ts.sub.Close()
		delete(r.subsByTopic, topic)
	}
	r.connected = false
	return r.client.Close()
}

func (r *RedisPubSub) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kvpubsub: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("kvpubsub: publish %s: %w", channel, err)
	}
	return nil
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channel string, cb func(context.Context, json.RawMessage)) (func(), error) {
	r.mu.Lock()
	ts, exists := r.subsByTopic[channel]
	if !exists {
		sub := r.client.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("kvpubsub: subscribe %s: %w", channel, err)
		}
		subCtx, cancel := context.WithCancel(ctx)
		ts = &topicSub{sub: sub, cancel: cancel, callbacks: make(map[int]func(context.Context, json.RawMessage))}
		r.subsByTopic[channel] = ts
		go r.dispatch(subCtx, channel, ts)
	}
	id := ts.nextID
	ts.nextID++
	ts.callbacks[id] = cb
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(ts.callbacks, id)
			if len(ts.callbacks) == 0 {
				ts.cancel()
				_ = ts.sub.Close()
				delete(r.subsByTopic, channel)
			}
		})
	}
	return unsubscribe, nil
}

func (r *RedisPubSub) dispatch(ctx context.Context, channel string, ts *topicSub) {
	ch := ts.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(msg.Payload), &raw); err != nil {
				r.log.Warn("kvpubsub: dropping unparseable message", "channel", channel, "error", err)
				continue
			}
			r.mu.Lock()
			cbs := make([]func(context.Context, json.RawMessage), 0, len(ts.callbacks))
			for _, cb := range ts.callbacks {
				cbs = append(cbs, cb)
			}
			r.mu.Unlock()
			for _, cb := range cbs {
				cb(ctx, raw)
			}
		}
	}
}
