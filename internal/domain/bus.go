package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Go channels in-process, NATS across processes.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Messages of one
	// subscription are delivered to the handler one at a time.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix" json:"natsSubjectPrefix"`

	// Servers in one queue group split batch requests between them.
	NATSQueueGroup string `yaml:"natsQueueGroup" json:"natsQueueGroup"`
}

// Topics for batch lifecycle events.
const (
	TopicBatchRequested = "fincrime.batch.requested"
	TopicBatchCompleted = "fincrime.batch.completed"
	TopicBatchFailed    = "fincrime.batch.failed"
)

// BatchEvent is the payload of completed and failed events.
type BatchEvent struct {
	RequestID  string   `json:"requestId,omitempty"`
	BatchID    string   `json:"batchId,omitempty"`
	OutputPath string   `json:"outputPath,omitempty"`
	Stage      Stage    `json:"stage,omitempty"`
	Error      string   `json:"error,omitempty"`
	Summary    *Summary `json:"summary,omitempty"`
}
