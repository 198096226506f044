// Package outbox implements transactional event publishing: operations
// write domain events into an outbox table and a polling worker relays
// them to NATS JetStream, so an event is never published for a write
// that did not commit.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one stored domain event awaiting (or past) relay.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	GameID    uuid.UUID       `json:"game_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// EventPublisher relays one stored event onto the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// Config tunes the relay worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}
