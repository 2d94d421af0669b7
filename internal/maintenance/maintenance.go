package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	lastRunKey    = "maintenance.last_run"
	lastRunAtKey  = "maintenance.last_run_at"
	scheduleKey   = "maintenance.enabled"
	defaultPeriod = 15 * time.Minute
)

// TransientPurger removes expired transient values.
type TransientPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SessionCleaner removes expired login sessions.
type SessionCleaner interface {
	CleanExpiredSessions(ctx context.Context) (int64, error)
}

// HistoryPruner removes scan history older than a cutoff.
type HistoryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunResult summarizes one maintenance pass.
type RunResult struct {
	TransientsPurged int64     `json:"transients_purged"`
	SessionsCleaned  int64     `json:"sessions_cleaned"`
	HistoryPruned    int64     `json:"history_pruned"`
	Optimized        bool      `json:"optimized"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Status holds database maintenance status information.
type Status struct {
	DBFileSize      int64      `json:"db_file_size"`
	WALFileSize     int64      `json:"wal_file_size"`
	PageCount       int64      `json:"page_count"`
	PageSize        int64      `json:"page_size"`
	LastRunAt       string     `json:"last_run_at,omitempty"`
	LastRun         *RunResult `json:"last_run,omitempty"`
	ScheduleEnabled bool       `json:"schedule_enabled"`
	Interval        string     `json:"interval"`
}

// Service runs periodic database housekeeping: expired scan plans and
// sessions are purged, old history is pruned and SQLite is optimized.
type Service struct {
	db        *sql.DB
	dbPath    string
	logger    *slog.Logger
	transient TransientPurger
	sessions  SessionCleaner
	history   HistoryPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	runMu sync.Mutex
}

// NewService creates a maintenance service. Any of the cleanup dependencies
// may be nil.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		dbPath:    dbPath,
		logger:    logger.With(slog.String("component", "maintenance")),
		retention: 30 * 24 * time.Hour,
		interval:  defaultPeriod,
		now:       time.Now,
	}
}

// SetTransientStore sets the store whose expired entries are purged.
func (s *Service) SetTransientStore(p TransientPurger) { s.transient = p }

// SetSessionCleaner sets the auth service whose expired sessions are removed.
func (s *Service) SetSessionCleaner(c SessionCleaner) { s.sessions = c }

// SetHistory sets the history pruner and how long scan history is kept.
func (s *Service) SetHistory(h HistoryPruner, retention time.Duration) {
	s.history = h
	if retention > 0 {
		s.retention = retention
	}
}

// SetInterval sets the scheduler period.
func (s *Service) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Interval: s.interval.String()}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	st.LastRunAt = s.getSetting(ctx, lastRunAtKey)
	if raw := s.getSetting(ctx, lastRunKey); raw != "" {
		var r RunResult
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			st.LastRun = &r
		}
	}
	st.ScheduleEnabled = s.getBoolSetting(ctx, scheduleKey, true)
	return st, nil
}

// SetScheduleEnabled turns the periodic run on or off.
func (s *Service) SetScheduleEnabled(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return s.putSetting(ctx, scheduleKey, v)
}

// RunOnce performs one maintenance pass. Individual cleanup failures are
// logged and joined into the returned error; later steps still run.
func (s *Service) RunOnce(ctx context.Context) (*RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var (
		res  RunResult
		errs []error
	)

	if s.transient != nil {
		n, err := s.transient.PurgeExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("purging transients: %w", err))
		}
		res.TransientsPurged = n
	}
	if s.sessions != nil {
		n, err := s.sessions.CleanExpiredSessions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleaning sessions: %w", err))
		}
		res.SessionsCleaned = n
	}
	if s.history != nil {
		n, err := s.history.Prune(ctx, s.now().Add(-s.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning history: %w", err))
		}
		res.HistoryPruned = n
	}
	if err := s.Optimize(ctx); err != nil {
		errs = append(errs, err)
	} else {
		res.Optimized = true
	}

	res.FinishedAt = s.now().UTC()
	if data, err := json.Marshal(res); err == nil {
		if err := s.putSetting(ctx, lastRunKey, string(data)); err != nil {
			s.logger.Warn("recording maintenance result", "error", err)
		}
	}
	if err := s.putSetting(ctx, lastRunAtKey, res.FinishedAt.Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording maintenance timestamp", "error", err)
	}

	s.logger.Info("maintenance complete",
		"transients_purged", res.TransientsPurged,
		"sessions_cleaned", res.SessionsCleaned,
		"history_pruned", res.HistoryPruned)
	return &res, errors.Join(errs...)
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	return nil
}

// Run performs maintenance on the configured interval until ctx is canceled.
// Runs are skipped while the schedule is disabled. It returns nil on
// cancellation so it can run under an errgroup.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("maintenance scheduler started", slog.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return nil
		case <-ticker.C:
			if !s.getBoolSetting(ctx, scheduleKey, true) {
				continue
			}
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled maintenance failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Service) getSetting(ctx context.Context, key string) string {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v); err != nil {
		return ""
	}
	return v
}

func (s *Service) getBoolSetting(ctx context.Context, key string, fallback bool) bool {
	v := s.getSetting(ctx, key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func (s *Service) putSetting(ctx context.Context, key, value string) error {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}
