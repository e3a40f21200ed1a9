// Package broker is the partitioned message-broker facade (spec.md §4.7,
// §6): subjects events.raw/events.parsed/memory.turns.finalized/
// memory.nodes.created/dlq.ingestion/dlq.memory, grouped into three
// logical streams EVENTS (limits, 24h), MEMORY (workqueue), DLQ (limits,
// 7 days). Keyed publishes are routed to a bounded set of partition
// subjects by rendezvous hashing so per-session ordering survives
// horizontal scale-out without a central partition table.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"
	"github.com/nats-io/nats.go"

	"github.com/rawcontext/engram/pkg/natsutil"
)

// Stream names spec.md §6 assigns to each subject group.
const (
	StreamEvents = "EVENTS"
	StreamMemory = "MEMORY"
	StreamDLQ    = "DLQ"
)

// Subject is one of the subjects spec.md §6 names.
type Subject string

const (
	SubjectEventsRaw       Subject = "events.raw"
	SubjectEventsParsed    Subject = "events.parsed"
	SubjectTurnsFinalized  Subject = "memory.turns.finalized"
	SubjectNodesCreated    Subject = "memory.nodes.created"
	SubjectDLQIngestion    Subject = "dlq.ingestion"
	SubjectDLQMemory       Subject = "dlq.memory"
)

// KeyedMessage is one entry of a send() batch: key drives partition
// placement, value is the payload.
type KeyedMessage struct {
	Key   string
	Value []byte
}

// Broker is the capability interface Ingestor/Parser/Aggregator/Indexer
// consume.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Send publishes each message to subject, partitioned by Key across
	// NumPartitions physical subjects (subject.p<N>).
	Send(ctx context.Context, subject Subject, msgs []KeyedMessage) error

	// Subscribe binds a durable consumer group member to subject (across
	// all its partitions) and invokes handler for each delivered message.
	// Acking is the handler's responsibility: returning nil acks, a
	// non-nil error naks for redelivery.
	Subscribe(ctx context.Context, subject Subject, group string, handler func(context.Context, []byte) error) (unsubscribe func(), err error)

	// AwaitConsumerGroupReady polls until group on subject reaches a
	// STABLE state with at least minMembers, or ctx is done.
	AwaitConsumerGroupReady(ctx context.Context, subject Subject, group string, minMembers int) error
}

// NATSBroker is the JetStream-backed Broker implementation.
type NATSBroker struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	numPartitions int
	router        *rendezvous.Rendezvous

	mu        sync.Mutex
	connected bool
}

// NewNATSBroker wraps an already-connected *nats.Conn. numPartitions bounds
// how many physical subjects a logical subject is sharded into.
func NewNATSBroker(nc *nats.Conn, numPartitions int) (*NATSBroker, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}
	if numPartitions <= 0 {
		numPartitions = 1
	}
	nodes := make([]string, numPartitions)
	for i := range nodes {
		nodes[i] = partitionNodeName(i)
	}
	return &NATSBroker{
		nc:            nc,
		js:            js,
		numPartitions: numPartitions,
		router:        newRouter(nodes),
	}, nil
}

func partitionNodeName(i int) string { return fmt.Sprintf("p%d", i) }

func newRouter(nodes []string) *rendezvous.Rendezvous {
	return rendezvous.New(nodes, hashString)
}

func hashString(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (b *NATSBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = b.nc.IsConnected()
	if !b.connected {
		return fmt.Errorf("broker: connect: nats connection not established")
	}
	return nil
}

func (b *NATSBroker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	b.nc.Close()
	return nil
}

func (b *NATSBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && b.nc.IsConnected()
}

// partitionSubject maps a logical subject+key to its physical, partitioned
// subject name.
func (b *NATSBroker) partitionSubject(subject Subject, key string) string {
	return fmt.Sprintf("%s.%s", subject, b.router.Lookup(key))
}

func (b *NATSBroker) Send(ctx context.Context, subject Subject, msgs []KeyedMessage) error {
	for _, m := range msgs {
		ps := b.partitionSubject(subject, m.Key)
		msg := &nats.Msg{Subject: ps, Data: m.Value}
		natsutil.InjectTrace(ctx, msg)
		if _, err := b.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("broker: publish %s: %w", ps, err)
		}
	}
	return nil
}

// Subscribe binds a durable queue group member. Each delivered message's
// trace context (injected by Send via natsutil) is extracted and passed to
// handler instead of the subscribe-call ctx, so a handler's spans nest under
// the publisher's trace rather than whatever loop started the consumer.
func (b *NATSBroker) Subscribe(ctx context.Context, subject Subject, group string, handler func(context.Context, []byte) error) (func(), error) {
	filter := fmt.Sprintf("%s.*", subject)
	sub, err := b.js.QueueSubscribe(filter, group, func(msg *nats.Msg) {
		msgCtx := natsutil.ExtractTrace(ctx, msg)
		if err := handler(msgCtx, msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(group), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s group %s: %w", subject, group, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// AwaitConsumerGroupReady polls JetStream's consumer info for subject's
// durable group until its queue-subscriber count reaches minMembers, or ctx
// is done. NumWaiting counts the distinct pull/push interests currently
// bound to the consumer, which is the closest JetStream analogue to a
// Kafka-style consumer-group STABLE member count (spec.md §4.7).
func (b *NATSBroker) AwaitConsumerGroupReady(ctx context.Context, subject Subject, group string, minMembers int) error {
	streamName := streamForSubject(subject)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if info, err := b.js.ConsumerInfo(streamName, group); err == nil && info.NumWaiting >= minMembers {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker: consumer group %s/%s not ready: %w", streamName, group, ctx.Err())
		case <-ticker.C:
		}
	}
}

func streamForSubject(s Subject) string {
	switch s {
	case SubjectEventsRaw, SubjectEventsParsed:
		return StreamEvents
	case SubjectTurnsFinalized, SubjectNodesCreated:
		return StreamMemory
	case SubjectDLQIngestion, SubjectDLQMemory:
		return StreamDLQ
	default:
		return StreamEvents
	}
}
