package jsonrpc

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Response(t *testing.T) {
	frame := Decode([]byte(`{"jsonrpc":"2.0","result":23784,"id":7}`))

	require.Equal(t, KindResponse, frame.Kind)
	require.NotNil(t, frame.Response)
	assert.Nil(t, frame.Notification)
	assert.Equal(t, uint64(7), frame.Response.ID)
	assert.JSONEq(t, `23784`, string(frame.Response.Result))
	assert.Nil(t, frame.Response.Error)
}

func TestDecode_ErrorResponse(t *testing.T) {
	frame := Decode([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":3}`))

	require.Equal(t, KindResponse, frame.Kind)
	require.NotNil(t, frame.Response.Error)
	assert.Equal(t, -32602, frame.Response.Error.Code)
	assert.Equal(t, "Invalid params", frame.Response.Error.Message)
	assert.EqualError(t, frame.Response.Error, "rpc error -32602: Invalid params")
}

func TestDecode_NullResult(t *testing.T) {
	frame := Decode([]byte(`{"jsonrpc":"2.0","result":null,"id":1}`))

	require.Equal(t, KindResponse, frame.Kind)
	assert.Equal(t, "null", string(frame.Response.Result))
}

func TestDecode_Notification(t *testing.T) {
	data := `{"jsonrpc":"2.0","method":"slotNotification","params":{"result":{"parent":75,"root":44,"slot":76},"subscription":0}}`

	frame := Decode([]byte(data))

	require.Equal(t, KindNotification, frame.Kind)
	require.NotNil(t, frame.Notification)
	assert.Nil(t, frame.Response)
	assert.Equal(t, "slotNotification", frame.Notification.Method)
	assert.Equal(t, SubscriptionID("0"), frame.Notification.Subscription)
	assert.JSONEq(t, `{"parent":75,"root":44,"slot":76}`, string(frame.Notification.Result))
}

func TestDecode_StringSubscriptionID(t *testing.T) {
	data := `{"jsonrpc":"2.0","method":"subscription","params":{"subscription":"0xcd0c3e8af590364c09d0fa6a1210faf5","result":{}}}`

	frame := Decode([]byte(data))

	require.Equal(t, KindNotification, frame.Kind)
	assert.Equal(t, SubscriptionID("0xcd0c3e8af590364c09d0fa6a1210faf5"), frame.Notification.Subscription)
}

func TestDecode_Unrecognized(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"truncated", `{"jsonrpc":"2.0","id":1`},
		{"no id no params", `{"jsonrpc":"2.0","method":"ping"}`},
		{"string id", `{"jsonrpc":"2.0","id":"abc","result":1}`},
		{"id without result", `{"jsonrpc":"2.0","id":4}`},
		{"bad subscription id", `{"jsonrpc":"2.0","method":"x","params":{"subscription":{},"result":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Decode([]byte(tt.data))
			assert.Equal(t, KindUnrecognized, frame.Kind)
			assert.Nil(t, frame.Response)
			assert.Nil(t, frame.Notification)
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	params, err := MarshalParams([]any{"9we6kjtbcZ2vy3GSLLsZTEhbAqXPTRvEyoxa8wxSqKp5", map[string]string{"commitment": "finalized"}})
	require.NoError(t, err)

	data, err := EncodeRequest(12, "accountSubscribe", params)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"jsonrpc":"2.0",
		"id":12,
		"method":"accountSubscribe",
		"params":["9we6kjtbcZ2vy3GSLLsZTEhbAqXPTRvEyoxa8wxSqKp5",{"commitment":"finalized"}]
	}`, string(data))
}

func TestMarshalParams_NilIsEmptyArray(t *testing.T) {
	params, err := MarshalParams(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(params))
}

func TestSubscriptionID_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]SubscriptionID{"42", "0xabc"})
	require.NoError(t, err)
	assert.JSONEq(t, `[42,"0xabc"]`, string(data))
}

func TestParseSubscriptionID(t *testing.T) {
	id, err := ParseSubscriptionID([]byte(`123`))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("123"), id)

	id, err = ParseSubscriptionID([]byte(`"sub-1"`))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("sub-1"), id)

	_, err = ParseSubscriptionID([]byte(`true`))
	assert.True(t, errors.Is(err, ErrInvalidSubscriptionID))

	_, err = ParseSubscriptionID([]byte(`""`))
	assert.ErrorIs(t, err, ErrInvalidSubscriptionID)
}
