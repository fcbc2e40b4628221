package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/chainstream/internal/connection"
)

// GapRecord flags a subscription that was active across a reconnect and may
// have missed notifications while offline. It does not reconstruct them.
type GapRecord struct {
	ID                   uuid.UUID
	SubscriptionID       connection.SubscriptionID // Id after resubscription
	Method               string
	DisconnectedAt       time.Time
	ReconnectedAt        time.Time
	PossibleMissedEvents bool
}

// OnDisconnect records the start of an outage and the subscriptions alive at
// that moment. Only the first disconnect of an outage is recorded.
func (m *Manager) OnDisconnect(at time.Time) {
	if !m.cfg.EnableGapDetection {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.disconnectedAt.IsZero() {
		return
	}
	m.disconnectedAt = at
	m.survivors = make(map[*connection.Subscription]struct{}, len(m.subs))
	for cs := range m.subs {
		m.survivors[cs] = struct{}{}
	}
}

// OnReconnect releases subscriptions whose resubscription failed and, with
// gap detection enabled, emits one GapRecord per subscription that was
// active at disconnect time and resubscribed successfully. A resubscription
// cut off by another close is retried on the next open, so the outage stays
// open for it.
func (m *Manager) OnReconnect(at time.Time, results []connection.Resubscription) {
	var (
		failed      []*Subscription
		records     []GapRecord
		interrupted bool
	)

	m.mu.Lock()
	for _, r := range results {
		s, ok := m.subs[r.Subscription]
		if !ok {
			continue
		}
		if r.Retried {
			interrupted = true
			continue
		}
		if r.Err != nil {
			delete(m.subs, r.Subscription)
			failed = append(failed, s)
			continue
		}
		if m.disconnectedAt.IsZero() {
			continue
		}
		if _, alive := m.survivors[r.Subscription]; !alive {
			continue
		}
		records = append(records, GapRecord{
			ID:                   uuid.New(),
			SubscriptionID:       r.NewID,
			Method:               s.method,
			DisconnectedAt:       m.disconnectedAt,
			ReconnectedAt:        at,
			PossibleMissedEvents: true,
		})
	}
	m.gaps = append(m.gaps, records...)
	if !interrupted {
		m.disconnectedAt = time.Time{}
		m.survivors = nil
	}
	handlers := m.gapHandlers
	m.mu.Unlock()

	for _, s := range failed {
		s.shutdown()
	}

	for _, rec := range records {
		m.metrics.Gap()
		m.logger.Warn("possible missed events",
			"method", rec.Method,
			"sub_id", rec.SubscriptionID,
			"disconnected_at", rec.DisconnectedAt,
			"reconnected_at", rec.ReconnectedAt,
		)
		for _, fn := range handlers {
			fn(rec)
		}
	}
}

// GapRecords returns the gap records produced so far.
func (m *Manager) GapRecords() []GapRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GapRecord(nil), m.gaps...)
}

// ClearGapRecords discards accumulated gap records.
func (m *Manager) ClearGapRecords() {
	m.mu.Lock()
	m.gaps = nil
	m.mu.Unlock()
}
