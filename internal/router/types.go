package router

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/connection"
)

// RouterConfig holds configuration for the relay.
type RouterConfig struct {
	SubjectPrefix string // Default: "chainstream"
	BufferSize    int    // Default: 1000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SubjectPrefix: "chainstream",
		BufferSize:    1000,
	}
}

// Message is one notification to relay.
type Message struct {
	Method         string                    `json:"method"`
	SubscriptionID connection.SubscriptionID `json:"subscription"`
	Result         json.RawMessage           `json:"result"`
	ReceivedAt     time.Time                 `json:"received_at"`
}

// Publisher sends a payload on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	GapsRouted       int64
	PublishErrors    int64
	Buffer           buffer.Stats
}

// outbound is a queued publish.
type outbound struct {
	subject string
	payload []byte
}

// gapEnvelope is the wire shape of a published gap record.
type gapEnvelope struct {
	ID                   string    `json:"id"`
	SubscriptionID       string    `json:"subscription"`
	Method               string    `json:"method"`
	DisconnectedAt       time.Time `json:"disconnected_at"`
	ReconnectedAt        time.Time `json:"reconnected_at"`
	PossibleMissedEvents bool      `json:"possible_missed_events"`
}
