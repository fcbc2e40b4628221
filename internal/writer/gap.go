package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/chainstream/internal/buffer"
	"github.com/rickgao/chainstream/internal/subscription"
)

const insertGap = `
	INSERT INTO subscription_gaps (id, subscription_id, method, disconnected_at, reconnected_at, possible_missed_events, client_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// GapWriter consumes gap records and writes them to the subscription_gaps table.
type GapWriter struct {
	cfg      WriterConfig
	clientID uuid.UUID
	logger   *slog.Logger

	// Input from the subscription manager's gap handler
	input *buffer.Ring[subscription.GapRecord]

	// Database
	db BatchSender

	// Batching
	batch   []subscription.GapRecord
	batchMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}

	metrics WriterMetrics
}

// NewGapWriter creates a GapWriter. clientID tags every row with the
// connection manager that produced it.
func NewGapWriter(cfg WriterConfig, db BatchSender, clientID uuid.UUID, logger *slog.Logger) *GapWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &GapWriter{
		cfg:      cfg,
		clientID: clientID,
		db:       db,
		logger:   logger.With("component", "gap_writer"),
		input:    buffer.NewRing[subscription.GapRecord](cfg.BatchSize, buffer.Grow),
		batch:    make([]subscription.GapRecord, 0, cfg.BatchSize),
	}
}

// Handle queues a record. It never blocks, so it can be registered directly
// with subscription.WithGapHandler.
func (w *GapWriter) Handle(rec subscription.GapRecord) {
	if err := w.input.Push(rec); err != nil {
		w.logger.Warn("gap record dropped", "gap_id", rec.ID, "error", err)
	}
}

// Start begins consuming records and writing to the database.
func (w *GapWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.consumed = make(chan struct{})

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("gap writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued records, flushes and shuts down.
func (w *GapWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping gap writer")

	// Closing the input lets the consumer drain what is queued.
	w.input.Close()

	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("gap writer stop timed out")
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	// Final flush uses the caller's context; the writer's own is cancelled.
	w.flush(ctx)
	w.logger.Info("gap writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *GapWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *GapWriter) consumeLoop() {
	defer w.wg.Done()
	defer close(w.consumed)

	for {
		rec, err := w.input.Pop(w.ctx)
		if err != nil {
			if !errors.Is(err, buffer.ErrClosed) && !errors.Is(err, context.Canceled) {
				w.logger.Warn("gap input failed", "error", err)
			}
			return
		}
		w.handleRecord(rec)
	}
}

func (w *GapWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *GapWriter) handleRecord(rec subscription.GapRecord) {
	w.batchMu.Lock()
	w.metrics.Received++
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *GapWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]subscription.GapRecord, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed gap records",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *GapWriter) batchInsert(ctx context.Context, rows []subscription.GapRecord) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertGap,
			r.ID, string(r.SubscriptionID), r.Method,
			r.DisconnectedAt, r.ReconnectedAt, r.PossibleMissedEvents, w.clientID,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
