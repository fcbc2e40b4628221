package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/chainstream/internal/jsonrpc"
	"github.com/rickgao/chainstream/internal/metrics"
	"github.com/rickgao/chainstream/internal/transport"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for backoff, timeouts and heartbeats.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithListener registers a Listener for disconnect and reconnect events.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// connectAttempt is shared by every caller waiting on one open attempt.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Manager owns one JSON-RPC WebSocket connection, correlates requests with
// responses, routes notifications to subscriptions and restores the
// connection and its subscriptions after unexpected loss.
//
// All state transitions happen under mu. Every transport is opened with the
// generation current at the time; callbacks carrying an older generation are
// ignored, so a late event from a superseded transport cannot corrupt state.
type Manager struct {
	cfg     Config
	dial    transport.Factory
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
	id      uuid.UUID

	connectGroup singleflight.Group

	mu              sync.Mutex
	state           State
	conn            transport.Transport
	gen             uint64
	attempt         *connectAttempt
	attempts        int    // reconnect attempts since the last successful open
	intentional     bool   // Disconnect was called
	exhausted       bool   // reconnect ceiling reached
	resubscribedGen uint64 // generation of the last ResubscribeAll snapshot
	lostAt          time.Time
	outbound        [][]byte
	pending         *correlator
	registry        *registry
	connectTimer    *clock.Timer
	reconnectTimer  *clock.Timer
	heartbeatStop   chan struct{}
	listeners       []Listener
}

// NewManager creates a Connection Manager. dial produces a fresh transport
// for every connection attempt.
func NewManager(cfg Config, dial transport.Factory, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	m := &Manager{
		cfg:      cfg.withDefaults(),
		dial:     dial,
		clock:    clock.New(),
		id:       id,
		pending:  newCorrelator(),
		registry: newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.With("component", "connection", "client_id", id.String())
	return m
}

// AddListener registers l for disconnect and reconnect events.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// ClientID identifies this manager in logs.
func (m *Manager) ClientID() uuid.UUID {
	return m.id
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts made since the last successful open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscriptions returns the registered subscriptions.
func (m *Manager) Subscriptions() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.snapshot()
}

// Connect opens the connection. It returns nil immediately when already
// connected; concurrent callers share a single attempt. A failed attempt
// schedules background reconnection.
func (m *Manager) Connect(ctx context.Context) error {
	if m.State() == StateConnected {
		return nil
	}

	ch := m.connectGroup.DoChan("connect", func() (any, error) {
		return nil, m.connect()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connect() error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		a := m.attempt
		m.mu.Unlock()
		<-a.done
		return a.err
	}

	m.intentional = false
	m.exhausted = false
	m.attempts = 0
	m.stopTimerLocked(&m.reconnectTimer)
	a, open := m.openLocked()
	m.mu.Unlock()

	m.logger.Info("connecting", "url", m.cfg.URL)
	open()

	<-a.done
	return a.err
}

// Disconnect closes the connection deliberately. Reconnection stops, pending
// requests fail with ErrDisconnected and the outbound queue is discarded.
// Registered subscriptions are kept and re-issued on the next Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.intentional = true
	m.stopTimerLocked(&m.reconnectTimer)
	m.stopTimerLocked(&m.connectTimer)
	m.stopHeartbeatLocked()

	conn := m.conn
	m.conn = nil
	m.gen++
	gen := m.gen

	if m.state == StateDisconnected && conn == nil {
		m.mu.Unlock()
		return nil
	}

	m.setStateLocked(StateDisconnecting)
	m.finishAttemptLocked(ErrDisconnected)
	m.pending.rejectAll(ErrDisconnected)
	m.outbound = nil
	m.lostAt = time.Time{}
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(transport.CloseNormal, "client disconnect")
	}

	m.mu.Lock()
	if m.gen == gen {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	m.logger.Info("disconnected")
	return err
}

// openLocked creates a transport for a new attempt. The returned func must be
// called after mu is released.
func (m *Manager) openLocked() (*connectAttempt, func()) {
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting)

	a := &connectAttempt{done: make(chan struct{})}
	m.attempt = a

	t := m.dial()
	m.conn = t
	m.connectTimer = m.clock.AfterFunc(m.cfg.ConnectionTimeout, func() {
		m.onConnectTimeout(gen)
	})

	events := transport.Events{
		OnOpen:    func() { m.onOpen(gen) },
		OnMessage: func(data []byte) { m.onMessage(gen, data) },
		OnError:   func(err error) { m.onError(gen, err) },
		OnClose:   func(code int, reason string) { m.onClose(gen, code, reason) },
	}
	url := m.cfg.URL
	return a, func() { t.Open(url, events) }
}

func (m *Manager) onOpen(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}

	m.stopTimerLocked(&m.connectTimer)
	m.setStateLocked(StateConnected)
	m.attempts = 0
	m.startHeartbeatLocked(gen)
	m.flushLocked()
	m.finishAttemptLocked(nil)

	now := m.clock.Now()
	reconnected := !m.lostAt.IsZero()
	m.lostAt = time.Time{}
	resubscribe := reconnected || m.registry.len() > 0
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL)
	if resubscribe {
		go m.resubscribeAndNotify(now, reconnected)
	}
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	frame := jsonrpc.Decode(data)

	switch frame.Kind {
	case jsonrpc.KindResponse:
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		_, ok := m.pending.resolve(frame.Response)
		m.mu.Unlock()
		if !ok {
			m.logger.Debug("response for unknown request", "id", frame.Response.ID)
		}

	case jsonrpc.KindNotification:
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		sub := m.registry.get(frame.Notification.Subscription)
		m.mu.Unlock()
		if sub == nil {
			m.logger.Debug("notification for unknown subscription",
				"method", frame.Notification.Method,
				"subscription", frame.Notification.Subscription,
			)
			return
		}
		m.dispatch(sub, frame.Notification)

	default:
		m.logger.Debug("unrecognized frame", "size", len(data))
	}
}

func (m *Manager) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	if m.state == StateConnecting {
		m.logger.Warn("connection attempt failed", "error", err)
		m.failAttemptLocked(fmt.Errorf("connect: %w", err))
		return
	}
	m.logger.Warn("transport error", "error", err)
}

func (m *Manager) onConnectTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateConnecting {
		return
	}

	m.logger.Warn("connection attempt timed out", "timeout", m.cfg.ConnectionTimeout)
	m.failAttemptLocked(ErrConnectTimeout)
}

func (m *Manager) onClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	switch m.state {
	case StateConnecting:
		m.logger.Warn("connection closed before open", "code", code, "reason", reason)
		m.failAttemptLocked(fmt.Errorf("connect: closed with code %d: %s", code, reason))
		m.mu.Unlock()

	case StateConnected:
		m.stopHeartbeatLocked()
		m.conn = nil
		m.gen++
		m.setStateLocked(StateDisconnected)
		m.pending.dropAbandoned()
		// Their responses can no longer arrive on this socket.
		m.pending.rejectAll(ErrConnectionInterrupted)

		lost := !m.intentional
		now := m.clock.Now()
		if lost {
			if m.lostAt.IsZero() {
				m.lostAt = now
			}
			m.scheduleReconnectLocked()
		}
		listeners := m.listeners
		m.mu.Unlock()

		m.logger.Warn("connection closed", "code", code, "reason", reason)
		if lost {
			for _, l := range listeners {
				l.OnDisconnect(now)
			}
		}

	default:
		m.mu.Unlock()
	}
}

// failAttemptLocked ends the current open attempt with err and, unless the
// disconnect was deliberate, schedules the next one.
func (m *Manager) failAttemptLocked(err error) {
	m.stopTimerLocked(&m.connectTimer)
	m.metrics.ConnectFailed()

	conn := m.conn
	m.conn = nil
	m.gen++
	m.setStateLocked(StateDisconnected)
	m.finishAttemptLocked(err)

	if conn != nil {
		go conn.Close(transport.CloseAbnormal, "connect failed")
	}
	if !m.intentional {
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) finishAttemptLocked(err error) {
	if m.attempt == nil {
		return
	}
	m.attempt.err = err
	close(m.attempt.done)
	m.attempt = nil
}

// scheduleReconnectLocked arms the backoff timer, or gives up once the
// attempt ceiling is reached.
func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempts)
		m.exhausted = true
		m.pending.rejectAll(ErrConnectionLost)
		m.outbound = nil
		go m.notifyConnectionLost(m.registry.snapshot())
		return
	}

	delay := backoffDelay(m.cfg.ReconnectDelay, m.cfg.MaxReconnectDelay, m.attempts)
	m.attempts++
	m.metrics.ReconnectScheduled()

	gen := m.gen
	attempt := m.attempts
	m.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.reconnect(gen)
	})
}

// notifyConnectionLost tells every registered subscription that no further
// notifications will arrive. Registry entries are kept so a later Connect
// can resubscribe them.
func (m *Manager) notifyConnectionLost(subs []*Subscription) {
	for _, sub := range subs {
		m.reportError(sub, ErrConnectionLost)
	}
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.intentional || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	attempt := m.attempts
	_, open := m.openLocked()
	m.mu.Unlock()

	m.logger.Info("reconnecting", "attempt", attempt, "url", m.cfg.URL)
	open()
}

func (m *Manager) startHeartbeatLocked(gen uint64) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	pinger, ok := m.conn.(transport.Pinger)
	if !ok {
		return
	}

	stop := make(chan struct{})
	m.heartbeatStop = stop
	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	go m.heartbeatLoop(gen, pinger, ticker, stop)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// heartbeatLoop pings on every tick. A failed ping closes the transport,
// which surfaces as an unexpected close and triggers reconnection.
func (m *Manager) heartbeatLoop(gen uint64, pinger transport.Pinger, ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := pinger.Ping(); err != nil {
				m.logger.Warn("heartbeat failed", "error", err)

				m.mu.Lock()
				var conn transport.Transport
				if gen == m.gen && m.state == StateConnected {
					conn = m.conn
				}
				m.mu.Unlock()

				if conn != nil {
					conn.Close(transport.CloseAbnormal, "heartbeat failed")
				}
				return
			}
		}
	}
}

// sendLocked writes data to the open transport, or queues it while offline.
func (m *Manager) sendLocked(data []byte) error {
	if m.state == StateConnected && m.conn != nil {
		if err := m.conn.Send(data); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if len(m.outbound) >= m.cfg.MessageQueueSize {
		return ErrQueueFull
	}
	m.outbound = append(m.outbound, data)
	return nil
}

// flushLocked sends queued messages in FIFO order.
func (m *Manager) flushLocked() {
	for len(m.outbound) > 0 {
		if err := m.conn.Send(m.outbound[0]); err != nil {
			m.logger.Warn("flush queued message failed", "error", err, "remaining", len(m.outbound))
			return
		}
		m.outbound[0] = nil
		m.outbound = m.outbound[1:]
	}
	m.outbound = nil
}

func (m *Manager) stopTimerLocked(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state.String(), "to", s.String())
	m.state = s
	m.metrics.SetConnectionState(int(s))
}
