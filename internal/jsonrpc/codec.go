package jsonrpc

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrInvalidSubscriptionID is returned when a subscribe result is neither a
// number nor a string.
var ErrInvalidSubscriptionID = errors.New("invalid subscription id")

// SubscriptionID is the canonical text form of a server-assigned subscription
// id. Numeric ids are kept as their decimal text and marshalled back as numbers.
type SubscriptionID string

// MarshalJSON encodes numeric ids as JSON numbers and everything else as strings.
func (id SubscriptionID) MarshalJSON() ([]byte, error) {
	if isDecimal(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// ParseSubscriptionID extracts a subscription id from a subscribe result or a
// notification's params.subscription field.
func ParseSubscriptionID(raw []byte) (SubscriptionID, error) {
	res := gjson.ParseBytes(raw)
	switch res.Type {
	case gjson.Number:
		return SubscriptionID(res.Raw), nil
	case gjson.String:
		if res.Str == "" {
			return "", ErrInvalidSubscriptionID
		}
		return SubscriptionID(res.Str), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidSubscriptionID, res.Raw)
	}
}

// MarshalParams encodes call parameters. A nil value encodes as an empty array,
// which is what the node expects for parameterless subscriptions.
func MarshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("[]"), nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// EncodeRequest builds the text frame for a request.
func EncodeRequest(id uint64, method string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	})
}

// Decode classifies an inbound frame. It never fails: anything that is not a
// well-formed response or notification comes back as KindUnrecognized.
func Decode(data []byte) Frame {
	if !gjson.ValidBytes(data) {
		return Frame{Kind: KindUnrecognized}
	}

	fields := gjson.GetManyBytes(data, "id", "params.subscription", "result", "error")
	id, sub, result, rpcErr := fields[0], fields[1], fields[2], fields[3]

	// Notifications never carry an id.
	if sub.Exists() && (!id.Exists() || id.Type == gjson.Null) {
		var nf notificationFrame
		if err := json.Unmarshal(data, &nf); err != nil {
			return Frame{Kind: KindUnrecognized}
		}
		subID, err := ParseSubscriptionID(nf.Params.Subscription)
		if err != nil {
			return Frame{Kind: KindUnrecognized}
		}
		return Frame{
			Kind: KindNotification,
			Notification: &Notification{
				Method:       nf.Method,
				Subscription: subID,
				Result:       nf.Params.Result,
			},
		}
	}

	if id.Type == gjson.Number && (result.Exists() || rpcErr.Exists()) {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Frame{Kind: KindUnrecognized}
		}
		// "result": null decodes to a nil RawMessage; keep it distinguishable
		// from an absent result.
		if resp.Error == nil && resp.Result == nil {
			resp.Result = json.RawMessage("null")
		}
		return Frame{Kind: KindResponse, Response: &resp}
	}

	return Frame{Kind: KindUnrecognized}
}
