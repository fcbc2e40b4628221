package buffer

import (
	"context"
	"errors"
	"sync"
)

// Errors
var (
	ErrFull   = errors.New("buffer full")
	ErrClosed = errors.New("buffer closed")
)

// Policy decides what Push does when the ring is at capacity.
type Policy int

const (
	// DropOldest evicts the head to admit the new item.
	DropOldest Policy = iota
	// DropNewest discards the incoming item.
	DropNewest
	// Reject refuses the incoming item with ErrFull.
	Reject
	// Grow doubles the capacity, never dropping.
	Grow
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Reject:
		return "reject"
	case Grow:
		return "grow"
	default:
		return "unknown"
	}
}

// Ring is a thread-safe FIFO ring buffer with a configurable overflow policy.
// It supports a single blocking consumer; Pop honours context cancellation.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	policy   Policy
	closed   bool
	onDrop   func(T)

	ready chan struct{} // signalled when an item is pushed
	done  chan struct{} // closed by Close

	// Stats
	pushed   int64
	popped   int64
	dropped  int64
	rejected int64
	resizes  int
}

// Stats contains ring statistics.
type Stats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Rejected int64
	Resizes  int
}

// NewRing creates a ring with the given capacity and overflow policy.
func NewRing[T any](capacity int, policy Policy) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
		policy:   policy,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnDrop registers a callback invoked (outside the lock) with every item
// evicted or discarded by DropOldest or DropNewest.
func (r *Ring[T]) OnDrop(fn func(T)) {
	r.mu.Lock()
	r.onDrop = fn
	r.mu.Unlock()
}

// Push adds an item. Overflow is resolved by the ring's policy: only Reject
// returns ErrFull. Returns ErrClosed after Close.
func (r *Ring[T]) Push(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	var (
		evicted T
		drop    bool
	)

	if r.count == r.capacity {
		switch r.policy {
		case DropOldest:
			evicted = r.take()
			drop = true
			r.popped-- // eviction is not a consumer read
			r.dropped++
		case DropNewest:
			r.dropped++
			fn := r.onDrop
			r.mu.Unlock()
			if fn != nil {
				fn(item)
			}
			return nil
		case Reject:
			r.rejected++
			r.mu.Unlock()
			return ErrFull
		case Grow:
			r.grow()
		}
	}

	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.pushed++
	fn := r.onDrop
	r.mu.Unlock()

	r.signal()

	if drop && fn != nil {
		fn(evicted)
	}
	return nil
}

// Pop removes and returns the oldest item, waiting until one is available,
// the ring is closed and drained (ErrClosed), or ctx is done.
func (r *Ring[T]) Pop(ctx context.Context) (T, error) {
	for {
		if item, ok, err := r.tryPop(); ok || err != nil {
			return item, err
		}

		select {
		case <-r.ready:
		case <-r.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest item without waiting.
func (r *Ring[T]) TryPop() (T, bool) {
	item, ok, _ := r.tryPop()
	return item, ok
}

func (r *Ring[T]) tryPop() (T, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		if r.closed {
			return zero, false, ErrClosed
		}
		return zero, false, nil
	}

	item := r.take()
	if r.count > 0 {
		r.signal()
	}
	return item, true, nil
}

// Close stops accepting items. Buffered items can still be popped.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Clear discards every buffered item.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count > 0 {
		r.take()
		r.popped--
	}
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the current capacity.
func (r *Ring[T]) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Count:    r.count,
		Capacity: r.capacity,
		Pushed:   r.pushed,
		Popped:   r.popped,
		Dropped:  r.dropped,
		Rejected: r.rejected,
		Resizes:  r.resizes,
	}
}

// take removes the head. Must be called with lock held and count > 0.
func (r *Ring[T]) take() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.popped++
	return item
}

func (r *Ring[T]) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// grow doubles the capacity. Must be called with lock held.
func (r *Ring[T]) grow() {
	newCapacity := r.capacity * 2
	newBuf := make([]T, newCapacity)

	if r.count > 0 {
		if r.head < r.tail {
			// Contiguous: [head...tail)
			copy(newBuf, r.buf[r.head:r.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, r.buf[r.head:])
			copy(newBuf[n:], r.buf[:r.tail])
		}
	}

	r.buf = newBuf
	r.head = 0
	r.tail = r.count
	r.capacity = newCapacity
	r.resizes++
}
