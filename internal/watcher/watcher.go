// Package watcher notices plugins and themes being installed, removed or
// edited, and tells the catalog to re-read them.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/coremonitor/internal/event"
)

// Service watches the content roots and each of their direct
// subdirectories. Roots that fsnotify cannot watch are polled instead.
// Bursts of changes are coalesced by a debounce timer into one onChange call
// and one catalog.changed event.
type Service struct {
	roots        []string
	onChange     func()
	eventBus     event.Publisher
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	started   bool
	watcher   *fsnotify.Watcher
	watching  map[string]bool
	snapshots map[string]snapshot // polled root -> last snapshot
}

// snapshot maps a path relative to a root, up to two levels deep, to its
// modification time.
type snapshot map[string]time.Time

// NewService creates a watcher for roots.
func NewService(roots []string, onChange func(), eventBus event.Publisher, logger *slog.Logger) *Service {
	return &Service{
		roots:        roots,
		onChange:     onChange,
		eventBus:     eventBus,
		logger:       logger.With("component", "fs-watcher"),
		debounce:     time.Second,
		pollInterval: time.Minute,
		watching:     make(map[string]bool),
		snapshots:    make(map[string]snapshot),
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// SetPollInterval overrides the default poll interval (for testing).
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// ForcePolling disables fsnotify so every root is polled (for testing).
func (s *Service) ForcePolling() {
	s.mu.Lock()
	s.watching = nil
	s.mu.Unlock()
}

// Run blocks until ctx is canceled. It always returns nil so it can run
// under an errgroup.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	usePoll := s.watching == nil
	s.mu.Unlock()

	var w *fsnotify.Watcher
	if !usePoll {
		var err error
		w, err = fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("fsnotify unavailable, running poll-only", "error", err)
		} else {
			defer w.Close() //nolint:errcheck
			s.mu.Lock()
			s.watcher = w
			s.mu.Unlock()
		}
	}
	s.setup()
	s.logger.Info("filesystem watcher starting", "roots", s.roots)

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	pending := false
	schedule := func() {
		if !debounceTimer.Stop() {
			select {
			case <-debounceTimer.C:
			default:
			}
		}
		debounceTimer.Reset(s.debounce)
		pending = true
	}

	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	if w != nil {
		eventCh = w.Events
		errCh = w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			if s.handleFSEvent(ev) {
				schedule()
			}

		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-pollTicker.C:
			if s.poll() {
				schedule()
			}

		case <-debounceTimer.C:
			if pending {
				pending = false
				s.fire()
			}
		}
	}
}

// Status describes how the content roots are being observed.
type Status struct {
	Started bool     `json:"started"`
	Watched int      `json:"watched_dirs"`
	Polled  []string `json:"polled_roots,omitempty"`
}

// Status returns the current observation state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Started: s.started, Watched: len(s.watching)}
	for root := range s.snapshots {
		st.Polled = append(st.Polled, root)
	}
	sort.Strings(st.Polled)
	return st
}

// setup adds watches for every root and its subdirectories, falling back to
// polling for roots that cannot be watched.
func (s *Service) setup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true

	for _, root := range s.roots {
		if s.watcher != nil && s.addWatchLocked(root) {
			for _, sub := range subdirs(root) {
				s.addWatchLocked(sub)
			}
			continue
		}
		s.snapshots[root] = takeSnapshot(root)
		s.logger.Info("polling content root", "path", root, "interval", s.pollInterval)
	}
}

func (s *Service) addWatchLocked(path string) bool {
	if s.watching[path] {
		return true
	}
	if err := s.watcher.Add(path); err != nil {
		s.logger.Warn("cannot watch path", "path", path, "error", err)
		return false
	}
	s.watching[path] = true
	return true
}

// handleFSEvent reports whether ev may change the catalog. New
// subdirectories of a root are watched as they appear.
func (s *Service) handleFSEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	parent := filepath.Dir(ev.Name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.watching[parent] {
		return false
	}
	if ev.Has(fsnotify.Create) && s.isRootLocked(parent) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			s.addWatchLocked(ev.Name)
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// fsnotify drops watches on removed directories by itself.
		delete(s.watching, ev.Name)
	}

	s.logger.Debug("content changed", "path", ev.Name, "op", ev.Op.String())
	return true
}

func (s *Service) isRootLocked(path string) bool {
	for _, r := range s.roots {
		if r == path {
			return true
		}
	}
	return false
}

// poll compares each polled root against its last snapshot.
func (s *Service) poll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for root, old := range s.snapshots {
		fresh := takeSnapshot(root)
		if !sameSnapshot(old, fresh) {
			s.logger.Debug("poll: content changed", "path", root)
			changed = true
		}
		s.snapshots[root] = fresh
	}
	return changed
}

func (s *Service) fire() {
	s.logger.Info("content changed, refreshing catalog")
	if s.onChange != nil {
		s.onChange()
	}
	if s.eventBus != nil {
		s.eventBus.Publish(event.Event{
			Type: event.CatalogChanged,
			Data: map[string]any{"roots": len(s.roots)},
		})
	}
}

func subdirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func takeSnapshot(root string) snapshot {
	snap := make(snapshot)
	entries, err := os.ReadDir(root)
	if err != nil {
		return snap
	}
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		snap[e.Name()] = info.ModTime()
		if !info.IsDir() {
			continue
		}
		children, err := os.ReadDir(p)
		if err != nil {
			continue
		}
		for _, c := range children {
			if ci, err := c.Info(); err == nil {
				snap[e.Name()+"/"+c.Name()] = ci.ModTime()
			}
		}
	}
	return snap
}

func sameSnapshot(a, b snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || !w.Equal(v) {
			return false
		}
	}
	return true
}
