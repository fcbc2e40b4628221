package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	Header           http.Header   // Extra handshake headers (auth tokens, etc.)
	HandshakeTimeout time.Duration // Max time for the HTTP upgrade
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	PongTimeout      time.Duration // Max time without a pong before Ping reports the connection stale
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PongTimeout:      90 * time.Second,
	}
}

// WebSocket is a Transport backed by gorilla/websocket.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	lastPongAt time.Time
	opened     bool
	closed     bool
}

// NewWebSocket creates an unopened WebSocket transport.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		cfg:    cfg,
		logger: logger,
	}
}

// WebSocketFactory returns a Factory producing WebSocket transports.
func WebSocketFactory(cfg WebSocketConfig, logger *slog.Logger) Factory {
	return func() Transport {
		return NewWebSocket(cfg, logger)
	}
}

// Open dials url in the background.
func (w *WebSocket) Open(url string, events Events) {
	ctx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	if w.closed || w.opened {
		w.mu.Unlock()
		cancel()
		return
	}
	w.opened = true
	w.cancelDial = cancel
	w.mu.Unlock()

	go w.run(ctx, url, events)
}

func (w *WebSocket) run(ctx context.Context, url string, ev Events) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, w.cfg.Header)
	if err != nil {
		emitError(ev, err)
		emitClose(ev, CloseAbnormal, err.Error())
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		emitClose(ev, CloseNormal, "closed during dial")
		return
	}
	w.conn = conn
	w.lastPongAt = time.Now()
	w.mu.Unlock()

	if w.cfg.ReadLimit > 0 {
		conn.SetReadLimit(w.cfg.ReadLimit)
	}

	// Server pings count as liveness too
	conn.SetPingHandler(func(data string) error {
		w.touch()
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		w.touch()
		return nil
	})

	w.logger.Debug("websocket connected", "url", url)
	if ev.OnOpen != nil {
		ev.OnOpen()
	}

	w.readLoop(conn, ev)
}

// readLoop delivers frames until the connection fails or is closed.
func (w *WebSocket) readLoop(conn *websocket.Conn, ev Events) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)

			w.mu.Lock()
			closedByUs := w.closed
			w.mu.Unlock()

			var ce *websocket.CloseError
			if !closedByUs && !errors.As(err, &ce) {
				emitError(ev, err)
			}
			emitClose(ev, code, reason)
			return
		}

		if ev.OnMessage != nil {
			ev.OnMessage(data)
		}
	}
}

// Send writes one text frame.
func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a keep-alive ping and reports a stale connection when no pong
// arrived within PongTimeout.
func (w *WebSocket) Ping() error {
	w.mu.Lock()
	conn := w.conn
	lastPong := w.lastPongAt
	w.mu.Unlock()

	if conn == nil {
		return ErrNotOpen
	}

	if w.cfg.PongTimeout > 0 && time.Since(lastPong) > w.cfg.PongTimeout {
		w.logger.Warn("no pong received, connection stale",
			"last_pong", lastPong,
			"timeout", w.cfg.PongTimeout,
		)
		return ErrStaleConnection
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(w.cfg.WriteTimeout))
}

// Close sends a close frame and tears down the socket.
func (w *WebSocket) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancelDial
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	w.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()

	return conn.Close()
}

func (w *WebSocket) touch() {
	w.mu.Lock()
	w.lastPongAt = time.Now()
	w.mu.Unlock()
}

// closeInfo extracts the close code and reason from a read error.
func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return CloseAbnormal, err.Error()
}

func emitError(ev Events, err error) {
	if ev.OnError != nil {
		ev.OnError(err)
	}
}

func emitClose(ev Events, code int, reason string) {
	if ev.OnClose != nil {
		ev.OnClose(code, reason)
	}
}
