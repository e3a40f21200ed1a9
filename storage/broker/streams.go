package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	eventsRetention = 24 * time.Hour
	dlqRetention    = 7 * 24 * time.Hour
)

// EnsureStreams creates the three logical streams spec.md §6 names if
// absent: EVENTS (limits retention, 24h), MEMORY (workqueue retention), DLQ
// (limits retention, 7 days). Each stream's subject filter matches every
// partition of its logical subjects (e.g. "events.raw.*").
func (b *NATSBroker) EnsureStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:      StreamEvents,
			Subjects:  []string{string(SubjectEventsRaw) + ".*", string(SubjectEventsParsed) + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    eventsRetention,
		},
		{
			Name:      StreamMemory,
			Subjects:  []string{string(SubjectTurnsFinalized) + ".*", string(SubjectNodesCreated) + ".*"},
			Retention: nats.WorkQueuePolicy,
		},
		{
			Name:      StreamDLQ,
			Subjects:  []string{string(SubjectDLQIngestion) + ".*", string(SubjectDLQMemory) + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    dlqRetention,
		},
	}

	for _, cfg := range streams {
		if _, err := b.js.StreamInfo(cfg.Name); err != nil {
			if _, err := b.js.AddStream(cfg); err != nil {
				return fmt.Errorf("broker: create stream %s: %w", cfg.Name, err)
			}
			continue
		}
		if _, err := b.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("broker: update stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}
