package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/chainstream/internal/subscription"
)

// fakeDB records queued batches and reports every row as inserted unless
// its id is in conflicts.
type fakeDB struct {
	mu        sync.Mutex
	batches   [][]*pgx.QueuedQuery
	conflicts map[uuid.UUID]bool
	err       error
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b.QueuedQueries)

	res := &fakeResults{err: d.err}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0].(uuid.UUID)
		res.affected = append(res.affected, !d.conflicts[id])
	}
	return res
}

func (d *fakeDB) rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	affected []bool
	next     int
	err      error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	ok := r.affected[r.next]
	r.next++
	if ok {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

func gapRecord(method string) subscription.GapRecord {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	return subscription.GapRecord{
		ID:                   uuid.New(),
		SubscriptionID:       "42",
		Method:               method,
		DisconnectedAt:       now,
		ReconnectedAt:        now.Add(3 * time.Second),
		PossibleMissedEvents: true,
	}
}

func TestGapWriter_BatchInsert(t *testing.T) {
	db := &fakeDB{}
	clientID := uuid.New()
	w := NewGapWriter(DefaultWriterConfig(), db, clientID, nil)

	rec := gapRecord("slotSubscribe")
	conflicts, err := w.batchInsert(context.Background(), []subscription.GapRecord{rec})
	if err != nil {
		t.Fatalf("batchInsert failed: %v", err)
	}
	if conflicts != 0 {
		t.Errorf("conflicts = %d, want 0", conflicts)
	}

	q := db.batches[0][0]
	if q.SQL != insertGap {
		t.Errorf("SQL = %q, want insertGap", q.SQL)
	}
	if got := q.Arguments[1]; got != "42" {
		t.Errorf("subscription_id = %v, want 42", got)
	}
	if got := q.Arguments[2]; got != "slotSubscribe" {
		t.Errorf("method = %v, want slotSubscribe", got)
	}
	if got := q.Arguments[6]; got != clientID {
		t.Errorf("client_id = %v, want %v", got, clientID)
	}
}

func TestGapWriter_Conflicts(t *testing.T) {
	dup := gapRecord("accountSubscribe")
	db := &fakeDB{conflicts: map[uuid.UUID]bool{dup.ID: true}}
	w := NewGapWriter(DefaultWriterConfig(), db, uuid.New(), nil)
	w.ctx = context.Background()

	w.batch = append(w.batch, dup, gapRecord("accountSubscribe"))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Inserts != 1 {
		t.Errorf("Inserts = %d, want 1", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestGapWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	w := NewGapWriter(DefaultWriterConfig(), db, uuid.New(), nil)

	w.batch = append(w.batch, gapRecord("logsSubscribe"))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", stats.Inserts)
	}
}

func TestGapWriter_FlushesOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour}
	w := NewGapWriter(cfg, db, uuid.New(), nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	w.Handle(gapRecord("slotSubscribe"))
	w.Handle(gapRecord("rootSubscribe"))

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.rows(); got != 2 {
		t.Fatalf("rows written = %d, want 2", got)
	}
}

func TestGapWriter_StopDrainsQueue(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	w := NewGapWriter(cfg, db, uuid.New(), nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		w.Handle(gapRecord("programSubscribe"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.rows(); got != 5 {
		t.Errorf("rows written = %d, want 5", got)
	}
	if got := w.Stats().Received; got != 5 {
		t.Errorf("Received = %d, want 5", got)
	}
}

func TestGapWriter_StopWithoutStart(t *testing.T) {
	w := NewGapWriter(DefaultWriterConfig(), &fakeDB{}, uuid.New(), nil)
	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
