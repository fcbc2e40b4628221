// Package router relays subscription notifications and gap records to NATS.
//
// Each notification is wrapped in an envelope and published on
// <prefix>.<method>; gap records go to <prefix>.gaps. The relay is
// fire-and-forget: Route never blocks the caller and sheds the oldest
// queued message when the publisher falls behind.
package router
