package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/connection"
	"github.com/rickgao/chainstream/internal/metrics"
	"github.com/rickgao/chainstream/internal/ratelimit"
)

// Errors
var (
	ErrMaxSubscriptions = errors.New("maximum concurrent subscriptions reached")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrQueueOverflow    = errors.New("subscription queue full")
	ErrUnsubscribed     = errors.New("subscription closed")
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used by the rate limiter.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithMetrics records policy metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithGapHandler registers fn to receive every GapRecord as it is produced.
func WithGapHandler(fn func(GapRecord)) Option {
	return func(m *Manager) {
		m.gapHandlers = append(m.gapHandlers, fn)
	}
}

// Manager enforces subscription policies on top of a connection.Manager.
type Manager struct {
	conn        *connection.Manager
	cfg         Config
	logger      *slog.Logger
	clock       clock.Clock
	metrics     *metrics.Metrics
	limiter     *ratelimit.Limiter
	gapHandlers []func(GapRecord)

	mu       sync.Mutex
	subs     map[*connection.Subscription]*Subscription
	reserved int // subscribe calls in flight, counted against the ceiling

	// Gap detection
	disconnectedAt time.Time
	survivors      map[*connection.Subscription]struct{}
	gaps           []GapRecord
}

// NewManager creates a Subscription Manager and registers it as a listener on conn.
func NewManager(conn *connection.Manager, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "subscription"),
		clock:  clock.New(),
		subs:   make(map[*connection.Subscription]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.limiter = ratelimit.New(m.cfg.MaxRequestsPerWindow, m.cfg.RateLimitWindow, m.clock)

	conn.AddListener(m)
	return m
}

// Subscribe applies the ceiling and rate limit, then subscribes through the
// connection. Notifications are queued per subscription; when handler is
// non-nil a goroutine drains the queue into it, otherwise the caller pulls
// with Subscription.Next. onError receives handler faults, queue rejections
// and resubscription failures; it may be nil.
func (m *Manager) Subscribe(ctx context.Context, method string, params any, handler connection.Handler, onError connection.ErrorHandler) (*Subscription, error) {
	m.mu.Lock()
	if len(m.subs)+m.reserved >= m.cfg.MaxConcurrentSubscriptions {
		m.mu.Unlock()
		m.metrics.PolicyRejection("max_subscriptions")
		return nil, fmt.Errorf("%w (%d)", ErrMaxSubscriptions, m.cfg.MaxConcurrentSubscriptions)
	}
	if !m.limiter.Allow() {
		m.mu.Unlock()
		m.metrics.PolicyRejection("rate_limit")
		return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, m.limiter.RetryAfter())
	}
	m.reserved++
	m.mu.Unlock()

	s := newSubscription(m, method, handler, onError)
	connSub, err := m.conn.Subscribe(ctx, method, params, s.enqueue, s.reportError)

	m.mu.Lock()
	m.reserved--
	if err != nil {
		m.mu.Unlock()
		s.queue.Close()
		return nil, err
	}
	s.conn = connSub
	m.subs[connSub] = s
	m.mu.Unlock()

	if handler != nil {
		go s.deliver()
	}

	m.logger.Debug("subscribed", "method", method, "sub_id", connSub.ID())
	return s, nil
}

// Unsubscribe releases s. Local state (queue, ceiling slot, registry entry)
// is always cleared; the returned error is that of the network call.
func (m *Manager) Unsubscribe(ctx context.Context, s *Subscription) (bool, error) {
	m.mu.Lock()
	_, ok := m.subs[s.conn]
	delete(m.subs, s.conn)
	m.mu.Unlock()

	s.shutdown()
	if !ok {
		return false, nil
	}

	removed, err := m.conn.UnsubscribeSubscription(ctx, s.conn)
	if err != nil {
		m.logger.Warn("unsubscribe failed", "method", s.method, "sub_id", s.conn.ID(), "error", err)
		return false, err
	}
	return removed, nil
}

// UnsubscribeAll releases every subscription.
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if _, err := m.Unsubscribe(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Connection returns the underlying connection manager.
func (m *Manager) Connection() *connection.Manager {
	return m.conn
}

// Subscription is a policy-managed subscription with its own bounded queue.
type Subscription struct {
	mgr     *Manager
	conn    *connection.Subscription
	method  string
	handler connection.Handler
	onError connection.ErrorHandler
	queue   *buffer.Ring[json.RawMessage]

	stopOnce sync.Once
}

func newSubscription(m *Manager, method string, handler connection.Handler, onError connection.ErrorHandler) *Subscription {
	strategy := m.cfg.QueueOverflowStrategy
	s := &Subscription{
		mgr:     m,
		method:  method,
		handler: handler,
		onError: onError,
		queue:   buffer.NewRing[json.RawMessage](m.cfg.MaxQueueSizePerSubscription, strategy.policy()),
	}
	s.queue.OnDrop(func(json.RawMessage) {
		m.metrics.QueueOverflow(string(strategy))
	})
	return s
}

// ID returns the current server-assigned id.
func (s *Subscription) ID() connection.SubscriptionID {
	return s.conn.ID()
}

// Method returns the subscribe method.
func (s *Subscription) Method() string {
	return s.method
}

// Next returns the next queued notification payload. It returns
// ErrUnsubscribed once the subscription is released.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	item, err := s.queue.Pop(ctx)
	if errors.Is(err, buffer.ErrClosed) {
		return nil, ErrUnsubscribed
	}
	return item, err
}

// Stats returns queue statistics.
func (s *Subscription) Stats() buffer.Stats {
	return s.queue.Stats()
}

// Unsubscribe releases the subscription.
func (s *Subscription) Unsubscribe(ctx context.Context) (bool, error) {
	return s.mgr.Unsubscribe(ctx, s)
}

// enqueue is the connection-level handler. A rejected item is returned as an
// error, which the connection routes back to reportError.
func (s *Subscription) enqueue(result json.RawMessage) error {
	err := s.queue.Push(result)
	switch {
	case err == nil, errors.Is(err, buffer.ErrClosed):
		return nil
	case errors.Is(err, buffer.ErrFull):
		s.mgr.metrics.QueueOverflow(string(Reject))
		return ErrQueueOverflow
	default:
		return err
	}
}

func (s *Subscription) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	s.mgr.logger.Warn("subscription error", "method", s.method, "error", err)
}

// deliver drains the queue into the handler until the queue is closed.
func (s *Subscription) deliver() {
	for {
		item, err := s.queue.Pop(context.Background())
		if err != nil {
			return
		}
		if err := s.call(item); err != nil {
			s.mgr.metrics.HandlerError()
			s.reportError(&connection.HandlerError{
				SubscriptionID: s.conn.ID(),
				Method:         s.method,
				Err:            err,
			})
		}
	}
}

func (s *Subscription) call(item json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(item)
}

// shutdown discards queued items and stops delivery.
func (s *Subscription) shutdown() {
	s.stopOnce.Do(func() {
		s.queue.Clear()
		s.queue.Close()
	})
}
