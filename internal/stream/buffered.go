package stream

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/subscription"
)

// Sequence is anything that can be ranged over as values with errors.
type Sequence[T any] interface {
	All(ctx context.Context) iter.Seq2[T, error]
}

// BufferOptions configures Buffer.
type BufferOptions struct {
	Size     int                           // Capacity, default 100
	Overflow subscription.OverflowStrategy // drop-oldest (default) or drop-newest
}

// Buffered is a bounded buffer between a producer sequence and a consumer.
// Overflow is shed according to the policy and never reported as an error.
type Buffered[T any] struct {
	ring   *buffer.Ring[item[T]]
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Buffer starts pumping seq into a bounded buffer. The pump runs until seq
// ends or the Buffered is closed; closing it also ends seq, which releases
// the upstream subscription.
func Buffer[T any](ctx context.Context, seq Sequence[T], opts BufferOptions) *Buffered[T] {
	size := opts.Size
	if size <= 0 {
		size = 100
	}
	policy := buffer.DropOldest
	if opts.Overflow == subscription.DropNewest {
		policy = buffer.DropNewest
	}

	pctx, cancel := context.WithCancel(ctx)
	b := &Buffered[T]{
		ring:   buffer.NewRing[item[T]](size, policy),
		cancel: cancel,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.ring.Close()

		for v, err := range seq.All(pctx) {
			if pctx.Err() != nil {
				return
			}
			_ = b.ring.Push(item[T]{value: v, err: err})
		}
	}()

	return b
}

// Next returns the oldest buffered value. It returns ErrClosed once the
// producer has ended and the buffer is drained, or after Close.
func (b *Buffered[T]) Next(ctx context.Context) (T, error) {
	it, err := b.ring.Pop(ctx)
	if errors.Is(err, buffer.ErrClosed) {
		var zero T
		return zero, ErrClosed
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return it.value, it.err
}

// All returns an iterator over the buffered values. Leaving the range loop
// closes the buffer.
func (b *Buffered[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer b.Close()

		for {
			it, err := b.ring.Pop(ctx)
			if errors.Is(err, buffer.ErrClosed) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(it.value, it.err) {
				return
			}
		}
	}
}

// Close stops the pump, waits for the producer to release its subscription
// and discards buffered values.
func (b *Buffered[T]) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.ring.Clear()
		b.ring.Close()
		b.wg.Wait()
	})
	return nil
}

// Stats returns buffer statistics, including shed items in Dropped.
func (b *Buffered[T]) Stats() buffer.Stats {
	return b.ring.Stats()
}
