// Package stream adapts callback subscriptions into pull-based sequences.
//
// A Stream subscribes lazily on its first Next, yields decoded notifications
// in delivery order, and unsubscribes exactly once when closed, when the
// range loop over All exits, or when an auto-close rule matches (signature
// confirmation). Buffer decouples a fast producer from a slow consumer with a
// bounded, policy-driven buffer.
package stream
