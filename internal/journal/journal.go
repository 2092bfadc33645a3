// Package journal records finished transcriptions and worker lifecycle events
// in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/sttgw/internal/log"
	"github.com/mattjoyce/sttgw/internal/supervisor"
)

// DefaultBuffer is the number of pending writes held before events are dropped.
const DefaultBuffer = 256

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("journal: record not found")

// Record is one finished transcription.
type Record struct {
	ID           string     `json:"id"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	Generation   uint64     `json:"generation"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
	Text         string     `json:"text,omitempty"`
	Language     string     `json:"language,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// WorkerRecord is one worker state transition.
type WorkerRecord struct {
	ID         int64     `json:"id"`
	Generation uint64    `json:"generation"`
	State      string    `json:"state"`
	At         time.Time `json:"at"`
	Detail     string    `json:"detail,omitempty"`
}

// Recorder is a supervisor.Observer that persists events asynchronously.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	writes chan func(context.Context) error
	done   chan struct{}
}

// New starts a Recorder writing to db. Call Close to flush and stop it.
func New(db *sql.DB, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		db:     db,
		logger: log.WithComponent("journal"),
		writes: make(chan func(context.Context) error, buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for write := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := write(ctx); err != nil {
			r.logger.Error("journal write failed", "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued writes to finish.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.writes)
	}
	r.mu.Unlock()
	<-r.done
}

// enqueue never blocks; a full buffer drops the write.
func (r *Recorder) enqueue(kind string, write func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.writes <- write:
	default:
		r.logger.Warn("journal buffer full, dropping event", "kind", kind)
	}
}

// JobEvent records terminal jobs.
func (r *Recorder) JobEvent(ev supervisor.JobEvent) {
	if !ev.State.Terminal() {
		return
	}
	rec := Record{
		ID:          ev.ID,
		Payload:     ev.Payload,
		Status:      ev.State.String(),
		Generation:  ev.Generation,
		SubmittedAt: ev.SubmittedAt,
		CompletedAt: ev.CompletedAt,
		Text:        ev.Text,
		Language:    ev.Language,
	}
	if !ev.DispatchedAt.IsZero() {
		t := ev.DispatchedAt
		rec.DispatchedAt = &t
	}
	if ev.Err != nil {
		rec.LastError = ev.Err.Error()
	}
	r.enqueue("job", func(ctx context.Context) error { return r.insertRecord(ctx, rec) })
}

// WorkerEvent records worker transitions and degradation alerts.
func (r *Recorder) WorkerEvent(ev supervisor.WorkerEvent) {
	state := ev.State.String()
	if ev.Degraded {
		state = "degraded"
	}
	wr := WorkerRecord{Generation: ev.Generation, State: state, At: ev.At, Detail: ev.Detail}
	r.enqueue("worker", func(ctx context.Context) error { return r.insertWorker(ctx, wr) })
}

func (r *Recorder) insertRecord(ctx context.Context, rec Record) error {
	var dispatchedAt any
	if rec.DispatchedAt != nil {
		dispatchedAt = formatTime(*rec.DispatchedAt)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT OR REPLACE INTO transcriptions(
  id, payload, status, generation, submitted_at, dispatched_at, completed_at, text, language, last_error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Payload, rec.Status, int64(rec.Generation), formatTime(rec.SubmittedAt), dispatchedAt,
		formatTime(rec.CompletedAt), nullString(rec.Text), nullString(rec.Language), nullString(rec.LastError))
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

func (r *Recorder) insertWorker(ctx context.Context, wr WorkerRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO worker_events(generation, state, at, detail) VALUES(?, ?, ?, ?);
`, int64(wr.Generation), wr.State, formatTime(wr.At), nullString(wr.Detail))
	if err != nil {
		return fmt.Errorf("insert worker event: %w", err)
	}
	return nil
}

// Get returns the transcription with id.
func (r *Recorder) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, payload, status, generation, submitted_at, dispatched_at, completed_at, text, language, last_error
FROM transcriptions
WHERE id = ?;
`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit transcriptions, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, payload, status, generation, submitted_at, dispatched_at, completed_at, text, language, last_error
FROM transcriptions
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcriptions: %w", err)
	}
	return out, nil
}

// RecentWorkerEvents returns up to limit worker events, newest first.
func (r *Recorder) RecentWorkerEvents(ctx context.Context, limit int) ([]WorkerRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, generation, state, at, detail
FROM worker_events
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list worker events: %w", err)
	}
	defer rows.Close()

	var out []WorkerRecord
	for rows.Next() {
		var (
			wr     WorkerRecord
			gen    int64
			atS    string
			detail sql.NullString
		)
		if err := rows.Scan(&wr.ID, &gen, &wr.State, &atS, &detail); err != nil {
			return nil, fmt.Errorf("scan worker event: %w", err)
		}
		wr.Generation = uint64(gen)
		wr.At = parseTime(atS)
		wr.Detail = detail.String
		out = append(out, wr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker events: %w", err)
	}
	return out, nil
}

// Prune deletes rows older than retention and returns how many were removed.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-retention))

	res, err := r.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune transcriptions: %w", err)
	}
	jobs, _ := res.RowsAffected()

	res, err = r.db.ExecContext(ctx, `DELETE FROM worker_events WHERE at < ?;`, cutoff)
	if err != nil {
		return jobs, fmt.Errorf("prune worker events: %w", err)
	}
	events, _ := res.RowsAffected()
	return jobs + events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec                              Record
		gen                              int64
		submittedS, completedS           string
		dispatchedS, text, lang, lastErr sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.Payload, &rec.Status, &gen, &submittedS, &dispatchedS,
		&completedS, &text, &lang, &lastErr); err != nil {
		return nil, err
	}
	rec.Generation = uint64(gen)
	rec.SubmittedAt = parseTime(submittedS)
	rec.CompletedAt = parseTime(completedS)
	if dispatchedS.Valid {
		t := parseTime(dispatchedS.String)
		rec.DispatchedAt = &t
	}
	rec.Text = text.String
	rec.Language = lang.String
	rec.LastError = lastErr.String
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
