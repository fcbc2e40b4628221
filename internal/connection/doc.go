// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one logical WebSocket connection and its state machine
//   - Correlates JSON-RPC requests and responses by id
//   - Routes notifications to registered subscription handlers
//   - Queues outbound frames while offline (bounded, FIFO)
//   - Reconnects with exponential backoff and resubscribes every entry
//
// All state transitions and registry mutations happen under a single lock;
// transport callbacks from superseded connection attempts are ignored.
package connection
