// Package subscription implements the Subscription Manager, a policy layer
// above the Connection Manager.
//
// Policies:
//   - Concurrency ceiling on active subscriptions
//   - Sliding-window rate limit on subscribe calls
//   - Gap detection across reconnects (GapRecord)
//   - Bounded per-subscription queue with an overflow strategy
//
// Ceiling and rate checks run before any request reaches the server.
package subscription
