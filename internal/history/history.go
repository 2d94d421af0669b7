// Package history records the outcome of hook scans from engine events.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/coremonitor/internal/event"
)

// Scan statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a scan id has no history row.
var ErrNotFound = errors.New("scan history not found")

// Entry is one recorded scan.
type Entry struct {
	ScanID        string     `json:"scan_id"`
	Target        string     `json:"target"`
	Kind          string     `json:"type"`
	Status        string     `json:"status"`
	TotalFiles    int        `json:"total_files"`
	TotalBatches  int        `json:"total_batches"`
	BatchesDone   int        `json:"batches_done"`
	FilesWithHits int        `json:"files_with_hooks"`
	ActionCount   int        `json:"action_count"`
	FilterCount   int        `json:"filter_count"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Service stores scan history in the scan_history table.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewService creates a history service.
func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger.With("component", "history")}
}

// Subscribe registers the service's handlers on bus.
func (s *Service) Subscribe(bus *event.Bus) {
	bus.Subscribe(event.ScanStarted, s.handle)
	bus.Subscribe(event.ScanBatch, s.handle)
	bus.Subscribe(event.ScanCompleted, s.handle)
	bus.Subscribe(event.ScanFailed, s.handle)
}

func (s *Service) handle(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Record(ctx, e); err != nil {
		s.logger.Error("recording scan event", "type", string(e.Type), "scan_id", e.ScanID, "error", err)
	}
}

// Record applies one scan event to the history.
func (s *Service) Record(ctx context.Context, e event.Event) error {
	if e.ScanID == "" {
		return fmt.Errorf("event %s has no scan id", e.Type)
	}
	ts := e.Timestamp.UTC().Format(time.RFC3339)

	var err error
	switch e.Type {
	case event.ScanStarted:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO scan_history (scan_id, target, kind, status, total_files, total_batches, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(scan_id) DO NOTHING`,
			e.ScanID, e.String("target"), e.String("kind"), StatusRunning,
			e.Int("total_files"), e.Int("total_batches"), ts)
	case event.ScanBatch:
		_, err = s.db.ExecContext(ctx, `
			UPDATE scan_history SET
				batches_done    = MAX(batches_done, ?),
				files_with_hits = files_with_hits + ?,
				action_count    = action_count + ?,
				filter_count    = filter_count + ?
			WHERE scan_id = ?`,
			e.Int("batch_index")+1, e.Int("files_with_hooks"), e.Int("actions"), e.Int("filters"), e.ScanID)
	case event.ScanCompleted:
		_, err = s.db.ExecContext(ctx, `
			UPDATE scan_history SET status = ?, finished_at = ?
			WHERE scan_id = ? AND status = ?`,
			StatusCompleted, ts, e.ScanID, StatusRunning)
	case event.ScanFailed:
		_, err = s.db.ExecContext(ctx, `
			UPDATE scan_history SET status = ?, error = ?, finished_at = ?
			WHERE scan_id = ? AND status = ?`,
			StatusFailed, e.String("error"), ts, e.ScanID, StatusRunning)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording %s for %s: %w", e.Type, e.ScanID, err)
	}
	return nil
}

const selectColumns = `scan_id, target, kind, status, total_files, total_batches, batches_done,
	files_with_hits, action_count, filter_count, error, started_at, finished_at`

// List returns the most recent scans, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scan_history ORDER BY started_at DESC, scan_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Get returns the history of one scan.
func (s *Service) Get(ctx context.Context, scanID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM scan_history WHERE scan_id = ?`, scanID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Prune deletes scans that started before cutoff.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_history WHERE started_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning scan history: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e          Entry
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&e.ScanID, &e.Target, &e.Kind, &e.Status, &e.TotalFiles, &e.TotalBatches,
		&e.BatchesDone, &e.FilesWithHits, &e.ActionCount, &e.FilterCount, &e.Error,
		&startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning history row: %w", err)
	}
	e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			e.FinishedAt = &t
		}
	}
	return &e, nil
}
