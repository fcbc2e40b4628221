package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first attempt", 50 * time.Millisecond, time.Second, 0, 50 * time.Millisecond},
		{"second attempt", 50 * time.Millisecond, time.Second, 1, 100 * time.Millisecond},
		{"third attempt", 50 * time.Millisecond, time.Second, 2, 200 * time.Millisecond},
		{"capped", time.Second, 30 * time.Second, 5, 30 * time.Second},
		{"exactly max", time.Second, 8 * time.Second, 3, 8 * time.Second},
		{"large attempt does not overflow", time.Second, 30 * time.Second, 200, 30 * time.Second},
		{"zero initial", 0, time.Second, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(tt.initial, tt.max, tt.attempt))
		})
	}
}

func TestUnsubscribeMethod(t *testing.T) {
	tests := map[string]string{
		"slotSubscribe":      "slotUnsubscribe",
		"accountSubscribe":   "accountUnsubscribe",
		"signatureSubscribe": "signatureUnsubscribe",
		"eth_subscribe":      "eth_unsubscribe",
		"custom":             "customUnsubscribe",
	}
	for in, want := range tests {
		assert.Equal(t, want, UnsubscribeMethod(in), in)
	}
}
