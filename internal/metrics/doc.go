// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection state, reconnect attempts and request outcomes
//   - Notification throughput and handler faults
//   - Per-subscription queue overflow counts
//   - Policy rejections (concurrency ceiling, rate limit)
//   - Gap records produced after reconnection
//
// A nil *Metrics is valid and records nothing.
package metrics
