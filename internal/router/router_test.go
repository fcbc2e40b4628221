package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chainstream/internal/subscription"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats: connection closed")
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func startRouter(t *testing.T, pub Publisher, cfg RouterConfig) *Router {
	t.Helper()
	r := NewRouter(cfg, pub, nil)
	require.NoError(t, r.Start(context.Background()))
	return r
}

func stop(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}

func TestRouter_RouteNotification(t *testing.T) {
	pub := &fakePublisher{}
	r := startRouter(t, pub, RouterConfig{SubjectPrefix: "solana"})

	r.Route(Message{
		Method:         "slotSubscribe",
		SubscriptionID: "7",
		Result:         json.RawMessage(`{"parent":1,"root":0,"slot":2}`),
		ReceivedAt:     time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	stop(t, r)

	msgs := pub.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "solana.slotSubscribe", msgs[0].subject)
	assert.JSONEq(t,
		`{"method":"slotSubscribe","subscription":7,"result":{"parent":1,"root":0,"slot":2},"received_at":"2026-01-15T12:00:00Z"}`,
		string(msgs[0].data))

	stats := r.Stats()
	assert.EqualValues(t, 1, stats.MessagesReceived)
	assert.EqualValues(t, 1, stats.MessagesRouted)
}

func TestRouter_RouteGap(t *testing.T) {
	pub := &fakePublisher{}
	r := startRouter(t, pub, DefaultRouterConfig())

	rec := subscription.GapRecord{
		ID:                   uuid.New(),
		SubscriptionID:       "12",
		Method:               "accountSubscribe",
		DisconnectedAt:       time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		ReconnectedAt:        time.Date(2026, 1, 15, 12, 0, 5, 0, time.UTC),
		PossibleMissedEvents: true,
	}
	r.RouteGap(rec)
	stop(t, r)

	msgs := pub.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chainstream.gaps", msgs[0].subject)

	var got gapEnvelope
	require.NoError(t, json.Unmarshal(msgs[0].data, &got))
	assert.Equal(t, rec.ID.String(), got.ID)
	assert.Equal(t, "12", got.SubscriptionID)
	assert.True(t, got.PossibleMissedEvents)
	assert.EqualValues(t, 1, r.Stats().GapsRouted)
}

func TestRouter_PublishErrorsCounted(t *testing.T) {
	pub := &fakePublisher{fail: true}
	r := startRouter(t, pub, DefaultRouterConfig())

	r.Route(Message{Method: "rootSubscribe", SubscriptionID: "1", Result: json.RawMessage(`5`)})
	r.Route(Message{Method: "rootSubscribe", SubscriptionID: "1", Result: json.RawMessage(`6`)})
	stop(t, r)

	stats := r.Stats()
	assert.EqualValues(t, 2, stats.PublishErrors)
	assert.EqualValues(t, 0, stats.MessagesRouted)
}

func TestRouter_ShedsOldestWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	// Not started: nothing drains the queue.
	r := NewRouter(RouterConfig{BufferSize: 2}, pub, nil)

	for i := 0; i < 5; i++ {
		r.Route(Message{Method: "slotSubscribe", SubscriptionID: "1", Result: json.RawMessage(`{}`)})
	}

	stats := r.Stats()
	assert.EqualValues(t, 5, stats.MessagesReceived)
	assert.Equal(t, 2, stats.Buffer.Count)
	assert.EqualValues(t, 3, stats.Buffer.Dropped)
}

func TestRouter_RouteAfterStopIsDropped(t *testing.T) {
	pub := &fakePublisher{}
	r := startRouter(t, pub, DefaultRouterConfig())
	stop(t, r)

	r.Route(Message{Method: "slotSubscribe", SubscriptionID: "1", Result: json.RawMessage(`{}`)})
	assert.Empty(t, pub.snapshot())
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"slotSubscribe", "slotSubscribe"},
		{"a.b", "a_b"},
		{"wild*card>", "wild_card_"},
		{"has space", "has_space"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeToken(tt.in), tt.in)
	}
}
