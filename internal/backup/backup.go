// Package backup takes SQLite snapshots of the coremonitor database and
// prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	regexp "github.com/wasilibs/go-re2"
)

const (
	filePrefix = "coremonitor-"
	stampFmt   = "20060102-150405"
)

// filePattern matches snapshot names: coremonitor-YYYYMMDD-HHMMSS.db
var filePattern = regexp.MustCompile(`^coremonitor-\d{8}-\d{6}\.db$`)

// ErrInvalidName means a snapshot name failed validation.
var ErrInvalidName = errors.New("invalid backup filename")

// Info describes a snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages database snapshots in one directory.
type Service struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	keep   int
	maxAge time.Duration
}

// NewService creates a backup service writing to dir. keep is the number of
// snapshots retained by Prune; zero keeps all.
func NewService(db *sql.DB, dir string, keep int, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		keep:   keep,
		logger: logger.With(slog.String("component", "backup")),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetMaxAge makes Prune also drop snapshots older than d. Zero disables it.
func (s *Service) SetMaxAge(d time.Duration) {
	s.mu.Lock()
	s.maxAge = d
	s.mu.Unlock()
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string { return s.dir }

// Create writes a snapshot with VACUUM INTO.
func (s *Service) Create(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	created := s.now().UTC().Truncate(time.Second)
	name := filePrefix + created.Format(stampFmt) + ".db"
	dest := filepath.Join(s.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("backup %s already exists", name)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	st, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup created", slog.String("filename", name), slog.Int64("size", st.Size()))
	return &Info{Filename: name, Size: st.Size(), CreatedAt: created}, nil
}

// List returns snapshots newest first. A missing directory yields none.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	out := []Info{}
	for _, e := range entries {
		if e.IsDir() || !filePattern.MatchString(e.Name()) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), filePrefix), ".db")
		ts, err := time.Parse(stampFmt, stamp)
		if err != nil {
			ts = st.ModTime().UTC()
		}
		out = append(out, Info{Filename: e.Name(), Size: st.Size(), CreatedAt: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes one snapshot.
func (s *Service) Delete(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil { //nolint:gosec // G703: name validated above
		return fmt.Errorf("removing backup: %w", err)
	}
	s.logger.Info("backup deleted", slog.String("filename", name))
	return nil
}

// Prune removes snapshots beyond the keep count and, when a max age is set,
// those older than it. It returns the number removed.
func (s *Service) Prune() (int, error) {
	s.mu.RLock()
	keep, maxAge := s.keep, s.maxAge
	s.mu.RUnlock()

	list, err := s.List()
	if err != nil {
		return 0, err
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.now().UTC().Add(-maxAge)
	}
	removed := 0
	for i, b := range list {
		overCount := keep > 0 && i >= keep
		tooOld := !cutoff.IsZero() && b.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("failed to remove old backup", slog.String("filename", b.Filename), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned backups", slog.Int("removed", removed))
	}
	return removed, nil
}

// Run creates and prunes a snapshot every interval until ctx is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("backup scheduler started", slog.String("interval", interval.String()), slog.String("dir", s.dir))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Create(ctx); err != nil {
				s.logger.Error("scheduled backup failed", slog.Any("error", err))
				continue
			}
			if _, err := s.Prune(); err != nil {
				s.logger.Error("backup prune failed", slog.Any("error", err))
			}
		}
	}
}

// ValidName reports whether name is a snapshot filename without any path
// components.
func ValidName(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filePattern.MatchString(name)
}
