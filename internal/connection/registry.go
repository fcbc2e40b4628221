package connection

import (
	"github.com/goccy/go-json"
)

// Subscription is an entry in the subscription registry. Its server-assigned
// id is replaced in place when the subscription is re-issued after a reconnect,
// so holders should read ID() at the time they need it.
type Subscription struct {
	mgr     *Manager
	method  string
	params  json.RawMessage
	handler Handler
	onError ErrorHandler

	// Guarded by mgr.mu
	id       SubscriptionID
	active   bool // present in the registry
	released bool // the consumer unsubscribed
}

// ID returns the current server-assigned id.
func (s *Subscription) ID() SubscriptionID {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.id
}

// Method returns the subscribe method.
func (s *Subscription) Method() string {
	return s.method
}

// Params returns the encoded subscribe parameters.
func (s *Subscription) Params() json.RawMessage {
	return s.params
}

// Active reports whether notifications are currently routed to the subscription.
func (s *Subscription) Active() bool {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.active
}

// registry maps server-assigned ids to subscriptions.
// Not safe for concurrent use; the manager serializes access.
type registry struct {
	byID map[SubscriptionID]*Subscription
}

func newRegistry() *registry {
	return &registry{
		byID: make(map[SubscriptionID]*Subscription),
	}
}

// add registers s under s.id, returning any entry it displaced.
func (r *registry) add(s *Subscription) *Subscription {
	prev := r.byID[s.id]
	if prev == s {
		prev = nil
	}
	if prev != nil {
		prev.active = false
	}
	r.byID[s.id] = s
	s.active = true
	return prev
}

func (r *registry) get(id SubscriptionID) *Subscription {
	return r.byID[id]
}

func (r *registry) remove(id SubscriptionID) *Subscription {
	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	s.active = false
	return s
}

// snapshot returns the current entries in no particular order.
func (r *registry) snapshot() []*Subscription {
	out := make([]*Subscription, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *registry) len() int {
	return len(r.byID)
}
