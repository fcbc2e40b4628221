// Package buffer provides a generic ring buffer used for per-subscription
// notification queues and for decoupling fast producers from slow consumers.
//
// Overflow is always resolved by policy:
//   - DropOldest: evict the head, admit the new item
//   - DropNewest: discard the incoming item
//   - Reject: return ErrFull to the producer
//   - Grow: double the capacity (unbounded)
package buffer
