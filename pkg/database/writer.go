package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
	writeTimeout  = 10 * time.Second
)

// Open connects to PostgreSQL and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// alertStore persists one batch and returns how many rows it wrote.
type alertStore interface {
	WriteAlerts(ctx context.Context, batch []*models.Alert) (int, error)
}

// AlertWriter handles batch writing of alerts to the fraud_alerts table.
// Write never blocks the pipeline: a full queue drops the alert.
type AlertWriter struct {
	store  alertStore
	logger *zap.Logger
	queue  chan *models.Alert
	done   chan struct{}
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex

	alertsWritten  atomic.Uint64
	alertsDropped  atomic.Uint64
	batchesWritten atomic.Uint64
	batchesFailed  atomic.Uint64
}

// NewAlertWriter creates a writer over an open database.
func NewAlertWriter(db *sql.DB, logger *zap.Logger) *AlertWriter {
	return newAlertWriter(&pgStore{db: db}, logger)
}

func newAlertWriter(store alertStore, logger *zap.Logger) *AlertWriter {
	return &AlertWriter{
		store:  store,
		logger: logger.Named("alert-writer"),
		queue:  make(chan *models.Alert, queueSize),
		done:   make(chan struct{}),
	}
}

// Start begins the background writer goroutine.
func (w *AlertWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.logger.Info("started")
}

// Stop flushes everything queued and waits for the last batch.
func (w *AlertWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.logger.Info("stopped",
		zap.Uint64("written", w.alertsWritten.Load()),
		zap.Uint64("dropped", w.alertsDropped.Load()),
		zap.Uint64("batches", w.batchesWritten.Load()))
}

// Write queues an alert for batch writing. The lock is held across the
// non-blocking send so nothing is queued after Stop starts draining.
func (w *AlertWriter) Write(alert *models.Alert) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		w.alertsDropped.Add(1)
		return
	}

	select {
	case w.queue <- alert:
	default:
		if n := w.alertsDropped.Add(1); n%1000 == 1 {
			w.logger.Warn("alert queue full", zap.Uint64("dropped", n))
		}
	}
}

// Stats returns writer statistics.
func (w *AlertWriter) Stats() map[string]any {
	return map[string]any{
		"alerts_written":  w.alertsWritten.Load(),
		"alerts_dropped":  w.alertsDropped.Load(),
		"batches_written": w.batchesWritten.Load(),
		"batches_failed":  w.batchesFailed.Load(),
		"queue_len":       len(w.queue),
		"queue_cap":       cap(w.queue),
	}
}

func (w *AlertWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]*models.Alert, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case alert := <-w.queue:
			batch = append(batch, alert)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Write stops queueing once running is false, so this drain sees everything.
		drain:
			for {
				select {
				case alert := <-w.queue:
					batch = append(batch, alert)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *AlertWriter) writeBatch(batch []*models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	written, err := w.store.WriteAlerts(ctx, batch)
	if err != nil {
		w.batchesFailed.Add(1)
		w.logger.Warn("batch failed", zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	w.alertsWritten.Add(uint64(written))
	w.batchesWritten.Add(1)
}

// pgStore writes alerts with lib/pq. Alert ids are unique, so a replayed
// batch is a no-op.
type pgStore struct {
	db *sql.DB
}

func (s *pgStore) WriteAlerts(ctx context.Context, batch []*models.Alert) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fraud_alerts (
			alert_id, tenant_id, kind, severity, probability,
			source_kind, source_key, facility_id, payload, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (alert_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, a := range batch {
		row, err := alertRow(a)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", a.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// alertRow flattens an alert into the fraud_alerts column order.
func alertRow(a *models.Alert) ([]any, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", a.ID, err)
	}

	var severity sql.NullString
	if a.Severity != nil {
		severity = sql.NullString{String: a.Severity.String(), Valid: true}
	}
	var probability sql.NullFloat64
	if a.Probability != nil {
		probability = sql.NullFloat64{Float64: *a.Probability, Valid: true}
	}

	return []any{
		a.ID,
		a.TenantID,
		string(a.Kind),
		severity,
		probability,
		a.Source.Kind,
		a.Source.Key,
		a.Source.FacilityID,
		payload,
		a.GeneratedAt,
	}, nil
}
