package stream

import (
	"context"

	"github.com/rickgao/chainstream/internal/connection"
	"github.com/rickgao/chainstream/internal/subscription"
)

// Handle is a live subscription a Stream can release.
type Handle interface {
	ID() connection.SubscriptionID
	Unsubscribe(ctx context.Context) (bool, error)
}

// Source creates subscriptions for streams.
type Source interface {
	Subscribe(ctx context.Context, method string, params any, handler connection.Handler, onError connection.ErrorHandler) (Handle, error)
}

// FromConnection subscribes directly through a Connection Manager.
func FromConnection(m *connection.Manager) Source {
	return connSource{m: m}
}

type connSource struct {
	m *connection.Manager
}

func (c connSource) Subscribe(ctx context.Context, method string, params any, handler connection.Handler, onError connection.ErrorHandler) (Handle, error) {
	sub, err := c.m.Subscribe(ctx, method, params, handler, onError)
	if err != nil {
		return nil, err
	}
	return connHandle{m: c.m, sub: sub}, nil
}

type connHandle struct {
	m   *connection.Manager
	sub *connection.Subscription
}

func (h connHandle) ID() connection.SubscriptionID {
	return h.sub.ID()
}

func (h connHandle) Unsubscribe(ctx context.Context) (bool, error) {
	return h.m.UnsubscribeSubscription(ctx, h.sub)
}

// FromManager subscribes through a Subscription Manager, so its ceiling,
// rate limit, queue policy and gap detection apply.
func FromManager(m *subscription.Manager) Source {
	return managerSource{m: m}
}

type managerSource struct {
	m *subscription.Manager
}

func (s managerSource) Subscribe(ctx context.Context, method string, params any, handler connection.Handler, onError connection.ErrorHandler) (Handle, error) {
	sub, err := s.m.Subscribe(ctx, method, params, handler, onError)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
