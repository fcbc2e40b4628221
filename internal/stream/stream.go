package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/connection"
)

// ErrClosed is returned by Next once a stream has ended.
var ErrClosed = errors.New("stream closed")

const defaultCleanupTimeout = 5 * time.Second

type item[T any] struct {
	value T
	err   error
}

// Stream is a lazy, pull-based view of one subscription.
//
// Notifications are queued without bound on the producer side so the
// connection's read path never blocks; wrap a Stream with Buffer to bound it.
// Decode failures, handler faults and queue rejections are returned from Next
// without ending the stream. ErrConnectionLost is returned once after the
// values queued before it, then the stream is closed.
type Stream[T any] struct {
	src            Source
	method         string
	params         any
	decode         func(json.RawMessage) (T, error)
	done           func(T) bool
	logger         *slog.Logger
	cleanupTimeout time.Duration

	queue     *buffer.Ring[item[T]]
	startOnce sync.Once
	startErr  error

	mu     sync.Mutex
	handle Handle
	closed bool
}

// StreamOption configures a Stream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	logger         *slog.Logger
	cleanupTimeout time.Duration
}

// WithLogger sets the logger used for cleanup diagnostics.
func WithLogger(l *slog.Logger) StreamOption {
	return func(o *streamOptions) {
		o.logger = l
	}
}

// WithCleanupTimeout bounds the unsubscribe issued on Close.
func WithCleanupTimeout(d time.Duration) StreamOption {
	return func(o *streamOptions) {
		o.cleanupTimeout = d
	}
}

// Subscribe creates a stream decoding each notification result into T.
func Subscribe[T any](src Source, method string, params any, opts ...StreamOption) *Stream[T] {
	return newStream(src, method, params, decodeJSON[T], nil, opts)
}

func decodeJSON[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func newStream[T any](src Source, method string, params any, decode func(json.RawMessage) (T, error), done func(T) bool, opts []StreamOption) *Stream[T] {
	o := streamOptions{
		logger:         slog.Default(),
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Stream[T]{
		src:            src,
		method:         method,
		params:         params,
		decode:         decode,
		done:           done,
		logger:         o.logger.With("component", "stream", "method", method),
		cleanupTimeout: o.cleanupTimeout,
		queue:          buffer.NewRing[item[T]](16, buffer.Grow),
	}
}

// Method returns the subscribe method.
func (s *Stream[T]) Method() string {
	return s.method
}

// ID returns the server-assigned subscription id, or "" until the subscribe
// is confirmed and after the stream is closed.
func (s *Stream[T]) ID() connection.SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.closed {
		return ""
	}
	return s.handle.ID()
}

// Next subscribes on first use, then waits for the next notification.
// It returns ErrClosed after Close or after an auto-close rule ended the
// stream and every queued value was returned.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	v, _, err := s.next(ctx)
	return v, err
}

// next also reports whether err ends the stream.
func (s *Stream[T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := s.start(ctx); err != nil {
		return zero, true, err
	}

	it, err := s.queue.Pop(ctx)
	switch {
	case errors.Is(err, buffer.ErrClosed):
		return zero, true, ErrClosed
	case err != nil:
		return zero, true, err
	}
	return it.value, errors.Is(it.err, connection.ErrConnectionLost), it.err
}

func (s *Stream[T]) start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		h, err := s.src.Subscribe(ctx, s.method, s.params, s.onNotification, s.onError)
		if err != nil {
			s.startErr = err
			s.queue.Close()
			return
		}

		s.mu.Lock()
		if s.closed {
			// Closed while the subscribe was in flight.
			s.mu.Unlock()
			s.unsubscribe(h)
			return
		}
		s.handle = h
		s.mu.Unlock()
	})
	return s.startErr
}

func (s *Stream[T]) onNotification(raw json.RawMessage) error {
	v, err := s.decode(raw)
	if err != nil {
		_ = s.queue.Push(item[T]{err: fmt.Errorf("decode %s notification: %w", s.method, err)})
		return nil
	}

	_ = s.queue.Push(item[T]{value: v})
	if s.done != nil && s.done(v) {
		s.queue.Close()
		// Unsubscribing waits on a response from the goroutine running this handler.
		go s.release()
	}
	return nil
}

func (s *Stream[T]) onError(err error) {
	_ = s.queue.Push(item[T]{err: err})
	if errors.Is(err, connection.ErrConnectionLost) {
		s.queue.Close()
		go s.release()
	}
}

// Close ends the stream and releases the subscription. It is safe to call
// more than once and after the connection is gone; cleanup errors are logged,
// never returned.
func (s *Stream[T]) Close() error {
	s.queue.Clear()
	s.queue.Close()
	s.release()
	return nil
}

// release unsubscribes exactly once. If the subscribe is still in flight the
// unsubscribe is issued by start once it is confirmed.
func (s *Stream[T]) release() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		s.unsubscribe(h)
	}
}

func (s *Stream[T]) unsubscribe(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cleanupTimeout)
	defer cancel()

	if _, err := h.Unsubscribe(ctx); err != nil {
		s.logger.Debug("unsubscribe on close failed", "sub_id", h.ID(), "error", err)
	}
}

// All returns an iterator over the stream. Leaving the range loop by break,
// return or panic closes the stream. Non-terminal errors are yielded with a
// zero value and iteration continues; a context error is yielded last.
func (s *Stream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close()

		for {
			v, terminal, err := s.next(ctx)
			if terminal {
				if !errors.Is(err, ErrClosed) {
					yield(v, err)
				}
				return
			}
			if !yield(v, err) {
				return
			}
		}
	}
}
