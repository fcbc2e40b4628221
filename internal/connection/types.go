package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/jsonrpc"
)

// Errors
var (
	ErrQueueFull      = errors.New("outbound queue full")
	ErrConnectTimeout = errors.New("connection timeout")
	ErrConnectionLost = errors.New("connection lost: reconnect attempts exhausted")
	ErrDisconnected   = errors.New("client disconnected")
	ErrRequestTimeout = errors.New("request timeout")

	// ErrConnectionInterrupted fails requests that were written to a socket
	// which then closed unexpectedly. The server may or may not have processed
	// them; retry once reconnected.
	ErrConnectionInterrupted = errors.New("connection interrupted before response")
)

// SubscriptionID is the server-assigned subscription id.
type SubscriptionID = jsonrpc.SubscriptionID

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Handler receives a notification's result payload. A returned error or a
// panic is routed to the subscription's ErrorHandler.
type Handler func(result json.RawMessage) error

// ErrorHandler receives handler faults, queue rejections and resubscription
// failures for one subscription. ErrConnectionLost is delivered once when the
// reconnect ceiling is reached; no further notifications follow it unless
// Connect is called again.
type ErrorHandler func(err error)

// HandlerError wraps a fault raised by a notification handler.
type HandlerError struct {
	SubscriptionID SubscriptionID
	Method         string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s subscription %s: %v", e.Method, e.SubscriptionID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Resubscription is the outcome of re-issuing one subscription after a reconnect.
type Resubscription struct {
	Subscription *Subscription
	OldID        SubscriptionID
	NewID        SubscriptionID // Empty when Err is set
	Err          error
	Retried      bool // Err was an interruption; the entry will be re-issued
}

// Listener observes connection-level events that affect subscriptions.
type Listener interface {
	// OnDisconnect is called once per unexpected loss of an open connection.
	OnDisconnect(at time.Time)

	// OnReconnect is called after a reconnect once every registry entry has
	// been resubscribed (successfully or not).
	OnReconnect(at time.Time, results []Resubscription)
}

// Config configures the Connection Manager.
type Config struct {
	URL                  string        // WebSocket endpoint (e.g., wss://api.mainnet-beta.solana.com)
	MaxReconnectAttempts int           // Reconnect attempts before giving up
	ReconnectDelay       time.Duration // Initial backoff delay
	MaxReconnectDelay    time.Duration // Backoff ceiling
	HeartbeatInterval    time.Duration // Keep-alive period while connected
	ConnectionTimeout    time.Duration // Max time for one open attempt
	RequestTimeout       time.Duration // Max time to wait for a response
	MessageQueueSize     int           // Outbound queue capacity while offline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ConnectionTimeout:    10 * time.Second,
		RequestTimeout:       30 * time.Second,
		MessageQueueSize:     100,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MessageQueueSize == 0 {
		c.MessageQueueSize = d.MessageQueueSize
	}
	return c
}
