// Package jsonrpc implements the JSON-RPC 2.0 frames exchanged with the node's
// subscription endpoint.
//
// Every inbound text frame is classified into exactly one Kind before routing:
//   - KindResponse: carries an id plus result or error
//   - KindNotification: carries params.subscription and params.result, no id
//   - KindUnrecognized: anything else (malformed JSON, server pings, etc.)
package jsonrpc
