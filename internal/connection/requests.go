package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chainstream/internal/jsonrpc"
)

// errReleased marks a resubscription skipped because the consumer unsubscribed.
var errReleased = errors.New("subscription released")

// Request sends a JSON-RPC request and waits for its result. While offline the
// request is queued and sent on the next successful open.
func (m *Manager) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := jsonrpc.MarshalParams(params)
	if err != nil {
		return nil, err
	}
	v, err := m.request(ctx, method, raw, nil)
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (m *Manager) request(ctx context.Context, method string, params json.RawMessage, onResult resultFunc) (any, error) {
	m.mu.Lock()
	if m.exhausted {
		m.mu.Unlock()
		m.metrics.Request(method, "error")
		return nil, ErrConnectionLost
	}
	p := m.pending.register(method, onResult)
	data, err := jsonrpc.EncodeRequest(p.id, method, params)
	if err == nil {
		err = m.sendLocked(data)
	}
	if err != nil {
		m.pending.remove(p.id)
		m.mu.Unlock()
		m.metrics.Request(method, "error")
		return nil, err
	}
	m.mu.Unlock()

	timer := m.clock.Timer(m.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		m.recordOutcome(method, res.err)
		return res.value, res.err
	case <-ctx.Done():
		if res, ok := m.abandon(p); ok {
			m.recordOutcome(method, res.err)
			return res.value, res.err
		}
		m.metrics.Request(method, "cancelled")
		return nil, ctx.Err()
	case <-timer.C:
		if res, ok := m.abandon(p); ok {
			m.recordOutcome(method, res.err)
			return res.value, res.err
		}
		m.metrics.Request(method, "timeout")
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	}
}

// abandon stops waiting on p. If p completed in the meantime its result is
// returned so a confirmed subscription is not lost.
func (m *Manager) abandon(p *pendingRequest) (result, bool) {
	m.mu.Lock()
	stillPending := m.pending.abandon(p.id)
	m.mu.Unlock()
	if stillPending {
		return result{}, false
	}

	select {
	case res := <-p.done:
		return res, true
	default:
		return result{}, false
	}
}

func (m *Manager) recordOutcome(method string, err error) {
	if err != nil {
		m.metrics.Request(method, "error")
		return
	}
	m.metrics.Request(method, "ok")
}

// Subscribe issues a subscribe request and registers handler for its
// notifications. onError receives handler faults and resubscription failures;
// it may be nil.
func (m *Manager) Subscribe(ctx context.Context, method string, params any, handler Handler, onError ErrorHandler) (*Subscription, error) {
	raw, err := jsonrpc.MarshalParams(params)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		mgr:     m,
		method:  method,
		params:  raw,
		handler: handler,
		onError: onError,
	}
	if err := m.subscribe(ctx, sub); err != nil {
		return nil, err
	}

	m.logger.Debug("subscribed", "method", method, "subscription", sub.ID())
	return sub, nil
}

// subscribe sends sub's subscribe request. The registry is updated from the
// response hook, before any later frame is routed, so no notification for the
// new id can be missed.
func (m *Manager) subscribe(ctx context.Context, sub *Subscription) error {
	_, err := m.request(ctx, sub.method, sub.params, func(resp *jsonrpc.Response, abandoned bool) (any, error) {
		id, err := jsonrpc.ParseSubscriptionID(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sub.method, err)
		}
		if abandoned || sub.released {
			m.sendUnsubscribeLocked(UnsubscribeMethod(sub.method), id)
			return nil, errReleased
		}

		sub.id = id
		if prev := m.registry.add(sub); prev != nil {
			m.logger.Warn("subscription id reused by server", "subscription", id, "method", sub.method)
		}
		m.metrics.SetActiveSubscriptions(m.registry.len())
		return id, nil
	})
	return err
}

// sendUnsubscribeLocked fires an unsubscribe whose result nobody awaits.
func (m *Manager) sendUnsubscribeLocked(method string, id SubscriptionID) {
	params, err := jsonrpc.MarshalParams([]SubscriptionID{id})
	if err != nil {
		return
	}
	p := m.pending.register(method, nil)
	p.abandoned = true
	data, err := jsonrpc.EncodeRequest(p.id, method, params)
	if err == nil {
		err = m.sendLocked(data)
	}
	if err != nil {
		m.pending.remove(p.id)
		m.logger.Warn("unsubscribe orphaned subscription failed", "subscription", id, "error", err)
	}
}

// Unsubscribe removes the registry entry for id and asks the server to drop
// it. While offline only local state is cleared, since the server-side
// subscription ended with the socket; the result is then true.
func (m *Manager) Unsubscribe(ctx context.Context, id SubscriptionID, unsubscribeMethod string) (bool, error) {
	m.mu.Lock()
	if sub := m.registry.remove(id); sub != nil {
		sub.released = true
		m.metrics.SetActiveSubscriptions(m.registry.len())
	}
	m.mu.Unlock()

	return m.unsubscribeRemote(ctx, id, unsubscribeMethod)
}

// UnsubscribeSubscription releases sub using its current id. It returns
// false without contacting the server if sub is not registered; a pending
// resubscription of sub is then undone when it completes.
func (m *Manager) UnsubscribeSubscription(ctx context.Context, sub *Subscription) (bool, error) {
	m.mu.Lock()
	sub.released = true
	id := sub.id
	wasActive := sub.active
	if wasActive {
		m.registry.remove(id)
		m.metrics.SetActiveSubscriptions(m.registry.len())
	}
	m.mu.Unlock()

	if !wasActive {
		return false, nil
	}
	return m.unsubscribeRemote(ctx, id, UnsubscribeMethod(sub.method))
}

func (m *Manager) unsubscribeRemote(ctx context.Context, id SubscriptionID, method string) (bool, error) {
	if m.State() != StateConnected {
		m.logger.Debug("offline unsubscribe cleared locally", "subscription", id)
		return true, nil
	}

	params, err := jsonrpc.MarshalParams([]SubscriptionID{id})
	if err != nil {
		return false, err
	}
	v, err := m.request(ctx, method, params, func(resp *jsonrpc.Response, _ bool) (any, error) {
		var ok bool
		if err := json.Unmarshal(resp.Result, &ok); err != nil {
			return false, fmt.Errorf("decode %s result: %w", method, err)
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ResubscribeAll re-issues every registered subscription concurrently and
// rebinds each entry to its new server id. Failures are reported through the
// subscription's ErrorHandler and in the returned results.
func (m *Manager) ResubscribeAll(ctx context.Context) []Resubscription {
	m.mu.Lock()
	subs := m.registry.snapshot()
	oldIDs := make([]SubscriptionID, len(subs))
	for i, s := range subs {
		oldIDs[i] = s.id
		m.registry.remove(s.id)
	}
	m.resubscribedGen = m.gen
	m.mu.Unlock()

	results := make([]Resubscription, len(subs))
	var g errgroup.Group
	for i, s := range subs {
		g.Go(func() error {
			results[i] = m.resubscribe(ctx, s, oldIDs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Manager) resubscribe(ctx context.Context, s *Subscription, oldID SubscriptionID) Resubscription {
	err := m.subscribe(ctx, s)
	r := Resubscription{Subscription: s, OldID: oldID, Err: err}
	if err == nil {
		r.NewID = s.ID()
		return r
	}
	if errors.Is(err, errReleased) {
		return r
	}
	if errors.Is(err, ErrConnectionInterrupted) && m.restore(s) {
		m.logger.Debug("resubscribe interrupted, retrying", "method", s.method, "subscription", oldID)
		r.Retried = true
		return r
	}

	m.logger.Warn("resubscribe failed", "method", s.method, "subscription", oldID, "error", err)
	m.reportError(s, fmt.Errorf("resubscribe %s: %w", s.method, err))
	return r
}

// restore puts sub back under its previous id after its resubscribe was cut
// off by a close. Returns false if the consumer released it meanwhile or the
// id now belongs to another entry. If a newer connection already took its
// resubscribe snapshot, sub is re-issued on it directly.
func (m *Manager) restore(sub *Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.released {
		return false
	}
	if other := m.registry.get(sub.id); other != nil && other != sub {
		return false
	}
	if m.state == StateConnected && m.resubscribedGen == m.gen {
		go m.resubscribe(context.Background(), sub, sub.id)
		return true
	}
	m.registry.add(sub)
	m.metrics.SetActiveSubscriptions(m.registry.len())
	return true
}

func (m *Manager) resubscribeAndNotify(at time.Time, reconnected bool) {
	results := m.ResubscribeAll(context.Background())

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if len(results) > 0 {
		m.logger.Info("resubscribed", "total", len(results), "failed", failed)
	}

	if !reconnected {
		return
	}
	m.mu.Lock()
	listeners := m.listeners
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnReconnect(at, results)
	}
}

// dispatch runs sub's handler inside a fault boundary.
func (m *Manager) dispatch(sub *Subscription, n *jsonrpc.Notification) {
	m.metrics.Notification()
	if sub.handler == nil {
		return
	}

	err := safeCall(sub.handler, n.Result)
	if err == nil {
		return
	}

	m.metrics.HandlerError()
	herr := &HandlerError{SubscriptionID: n.Subscription, Method: sub.method, Err: err}
	if sub.onError == nil {
		m.logger.Warn("notification handler failed", "method", sub.method, "subscription", n.Subscription, "error", err)
		return
	}
	m.reportError(sub, herr)
}

// reportError hands err to sub's ErrorHandler, if any, inside a fault boundary.
func (m *Manager) reportError(sub *Subscription, err error) {
	if sub.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("error handler panicked", "method", sub.method, "panic", r)
		}
	}()
	sub.onError(err)
}

func safeCall(h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(payload)
}

// UnsubscribeMethod derives the unsubscribe method for a subscribe method,
// e.g. slotSubscribe -> slotUnsubscribe, eth_subscribe -> eth_unsubscribe.
func UnsubscribeMethod(subscribeMethod string) string {
	switch {
	case strings.HasSuffix(subscribeMethod, "Subscribe"):
		return strings.TrimSuffix(subscribeMethod, "Subscribe") + "Unsubscribe"
	case strings.HasSuffix(subscribeMethod, "subscribe"):
		return strings.TrimSuffix(subscribeMethod, "subscribe") + "unsubscribe"
	default:
		return subscribeMethod + "Unsubscribe"
	}
}
