// Package transport defines the duplex socket contract consumed by the
// connection manager, plus a WebSocket implementation of it.
//
// A Transport instance is single-use: it is opened once, reports its lifecycle
// through Events, and is discarded after it closes. Reconnection creates a new
// instance through a Factory.
package transport

import "errors"

// Close codes used by the client (RFC 6455).
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Errors
var (
	ErrNotOpen         = errors.New("transport not open")
	ErrClosed          = errors.New("transport closed")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// Events receives transport lifecycle callbacks. Callbacks for one transport
// are delivered sequentially from a single goroutine and never from inside a
// call to Open, Send, Ping or Close.
//
// A failed open reports OnError followed by OnClose. An open transport that
// fails reports OnClose (optionally preceded by OnError).
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Transport is a duplex text-frame socket.
type Transport interface {
	// Open starts connecting to url and returns immediately.
	Open(url string, events Events)

	// Send writes one text frame. Fails with ErrNotOpen before OnOpen.
	Send(data []byte) error

	// Close closes the socket with the given code and reason. Safe to call
	// more than once and before the open completes.
	Close(code int, reason string) error
}

// Pinger is implemented by transports that support keep-alive pings.
type Pinger interface {
	Ping() error
}

// Factory creates a fresh Transport for each connection attempt.
type Factory func() Transport
