package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/subscription"
)

// Router publishes notifications and gap records to a Publisher.
type Router struct {
	cfg    RouterConfig
	pub    Publisher
	logger *slog.Logger

	queue *buffer.Ring[outbound]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	received      int64
	routed        int64
	gaps          int64
	publishErrors int64
}

// NewRouter creates a relay publishing through pub.
func NewRouter(cfg RouterConfig, pub Publisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRouterConfig()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Router{
		cfg:    cfg,
		pub:    pub,
		logger: logger.With("component", "router"),
		queue:  buffer.NewRing[outbound](cfg.BufferSize, buffer.DropOldest),
	}
}

// Start begins publishing queued messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.publishLoop()

	r.logger.Info("message router started",
		"subject_prefix", r.cfg.SubjectPrefix,
		"buffer", r.cfg.BufferSize,
	)
	return nil
}

// Stop publishes what is already queued and shuts down.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Subject returns the subject notifications of method are published on.
func (r *Router) Subject(method string) string {
	return r.cfg.SubjectPrefix + "." + sanitizeToken(method)
}

// GapSubject returns the subject gap records are published on.
func (r *Router) GapSubject() string {
	return r.cfg.SubjectPrefix + ".gaps"
}

// Route queues msg for publishing.
func (r *Router) Route(msg Message) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("failed to encode notification", "method", msg.Method, "error", err)
		return
	}
	r.enqueue(outbound{subject: r.Subject(msg.Method), payload: payload})
}

// RouteGap queues a gap record. It has the shape of a subscription gap
// handler.
func (r *Router) RouteGap(rec subscription.GapRecord) {
	payload, err := json.Marshal(gapEnvelope{
		ID:                   rec.ID.String(),
		SubscriptionID:       string(rec.SubscriptionID),
		Method:               rec.Method,
		DisconnectedAt:       rec.DisconnectedAt,
		ReconnectedAt:        rec.ReconnectedAt,
		PossibleMissedEvents: rec.PossibleMissedEvents,
	})
	if err != nil {
		r.logger.Warn("failed to encode gap record", "gap_id", rec.ID, "error", err)
		return
	}
	r.enqueue(outbound{subject: r.GapSubject(), payload: payload})

	r.mu.Lock()
	r.gaps++
	r.mu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		GapsRouted:       r.gaps,
		PublishErrors:    r.publishErrors,
		Buffer:           r.queue.Stats(),
	}
}

func (r *Router) enqueue(o outbound) {
	if err := r.queue.Push(o); err != nil {
		r.logger.Debug("router closed, message dropped", "subject", o.subject)
	}
}

// publishLoop is the main publishing goroutine.
func (r *Router) publishLoop() {
	defer r.wg.Done()

	for {
		o, err := r.queue.Pop(r.ctx)
		if err != nil {
			if !errors.Is(err, buffer.ErrClosed) && !errors.Is(err, context.Canceled) {
				r.logger.Warn("router queue failed", "error", err)
			}
			return
		}

		if err := r.pub.Publish(o.subject, o.payload); err != nil {
			r.logger.Warn("publish failed", "subject", o.subject, "error", err)
			r.mu.Lock()
			r.publishErrors++
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	}
}

// sanitizeToken replaces characters that are not valid in a NATS subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, s)
}
