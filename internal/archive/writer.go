package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livesub/internal/protocol"
)

// WriterConfig configures batching.
type WriterConfig struct {
	BatchSize     int           // Flush when this many frames are pending
	FlushInterval time.Duration // Flush at least this often
	FlushTimeout  time.Duration // Upper bound for one background flush
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64 // Frames whose payload could not be encoded
}

// frameRow is one livesub_frames row.
type frameRow struct {
	LogicalID  string
	FrameID    string
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

// Writer batches received frames into livesub_frames.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     DB

	// Batching
	batch    []frameRow
	batchMu  sync.Mutex
	flushNow chan struct{} // Signals flushLoop that a batch is full

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaults.FlushTimeout
	}
	return &Writer{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		batch:    make([]frameRow, 0, cfg.BatchSize),
		flushNow: make(chan struct{}, 1),
	}
}

// Start begins the periodic flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("frame archive started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the flush loop and writes whatever is pending using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping frame archive")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("frame archive stop timed out")
	}

	// Final flush
	return w.flush(ctx)
}

// Record adds a received frame to the pending batch. It never waits on
// the database; a full batch is handed to the flush loop.
func (w *Writer) Record(msg protocol.Message, receivedAt time.Time) {
	row, err := transform(msg, receivedAt)
	if err != nil {
		w.logger.Warn("dropping frame from archive", "id", msg.ID, "error", err)
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		select {
		case w.flushNow <- struct{}{}:
		default: // A flush is already pending
		}
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Pending returns the number of frames not yet flushed.
func (w *Writer) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// flushLoop flushes the batch on every tick and whenever it fills up.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushWithTimeout()
		case <-w.flushNow:
			w.flushWithTimeout()
		}
	}
}

func (w *Writer) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.FlushTimeout)
	defer cancel()
	w.flush(ctx)
}

// transform converts a frame to a frameRow.
func transform(msg protocol.Message, receivedAt time.Time) (frameRow, error) {
	var payload []byte
	if msg.Payload != nil {
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return frameRow{}, fmt.Errorf("encode payload: %w", err)
		}
		payload = data
	}
	return frameRow{
		LogicalID:  msg.LogicalID(),
		FrameID:    msg.ID,
		Type:       string(msg.Type),
		Payload:    payload,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]frameRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed frames",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, rows []frameRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO livesub_frames (logical_id, frame_id, type, payload, received_at)
			VALUES ($1, $2, $3, $4, $5)
		`, r.LogicalID, r.FrameID, r.Type, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
