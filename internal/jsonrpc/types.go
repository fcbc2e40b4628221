package jsonrpc

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Version is the protocol version sent on every request.
const Version = "2.0"

// Request is an outbound call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request, matched solely by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a server-supplied error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Notification is an unsolicited push tagged with a subscription id.
type Notification struct {
	Method       string
	Subscription SubscriptionID
	Result       json.RawMessage
}

// notificationFrame mirrors the wire shape of a notification.
type notificationFrame struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Kind tags a decoded Frame.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unrecognized"
	}
}

// Frame is the tagged result of decoding one inbound message. Exactly one of
// Response and Notification is set, matching Kind; both are nil for
// KindUnrecognized.
type Frame struct {
	Kind         Kind
	Response     *Response
	Notification *Notification
}
