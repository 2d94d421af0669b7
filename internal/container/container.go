// Package container builds the application's collaborators once and hands
// them out as typed fields.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/coremonitor/internal/auth"
	"github.com/sydlexius/coremonitor/internal/backup"
	"github.com/sydlexius/coremonitor/internal/catalog"
	"github.com/sydlexius/coremonitor/internal/config"
	"github.com/sydlexius/coremonitor/internal/database"
	"github.com/sydlexius/coremonitor/internal/event"
	"github.com/sydlexius/coremonitor/internal/history"
	"github.com/sydlexius/coremonitor/internal/hookscan"
	"github.com/sydlexius/coremonitor/internal/logging"
	"github.com/sydlexius/coremonitor/internal/maintenance"
	"github.com/sydlexius/coremonitor/internal/transient"
	"github.com/sydlexius/coremonitor/internal/watcher"
)

// Component names one collaborator held by the container.
type Component int

// Components, in startup order.
const (
	Database Component = iota
	TransientStore
	EventBus
	Auth
	Catalog
	Engine
	History
	Maintenance
	Backup
	Watcher
	numComponents
)

var componentNames = [numComponents]string{
	Database:       "database",
	TransientStore: "transient_store",
	EventBus:       "event_bus",
	Auth:           "auth",
	Catalog:        "catalog",
	Engine:         "hookscan_engine",
	History:        "history",
	Maintenance:    "maintenance",
	Backup:         "backup",
	Watcher:        "watcher",
}

func (c Component) String() string {
	if c < 0 || c >= numComponents {
		return fmt.Sprintf("component(%d)", int(c))
	}
	return componentNames[c]
}

// MarshalText encodes the component by name.
func (c Component) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a component name. Unknown names are rejected.
func (c *Component) UnmarshalText(text []byte) error {
	for i, name := range componentNames {
		if name == string(text) {
			*c = Component(i)
			return nil
		}
	}
	return fmt.Errorf("unknown component %q", text)
}

// Components returns every component in startup order.
func Components() []Component {
	out := make([]Component, numComponents)
	for i := range out {
		out[i] = Component(i)
	}
	return out
}

// Readiness is the health of one component.
type Readiness struct {
	Component Component `json:"component"`
	Ready     bool      `json:"ready"`
	Detail    string    `json:"detail,omitempty"`
}

// Container holds every long-lived collaborator.
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	LogManager *logging.Manager

	DB          *sql.DB
	Transients  *transient.Store
	EventBus    *event.Bus
	Auth        *auth.Service
	Catalog     *catalog.Catalog
	Engine      *hookscan.Engine
	History     *history.Service
	Maintenance *maintenance.Service
	Backups     *backup.Service
	Watcher     *watcher.Service
}

// New opens the database at cfg.Database.Path and builds every component.
func New(cfg *config.Config, logManager *logging.Manager, logger *slog.Logger) (*Container, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return NewWithDB(cfg, db, logManager, logger), nil
}

// NewWithDB builds every component on an already migrated database.
func NewWithDB(cfg *config.Config, db *sql.DB, logManager *logging.Manager, logger *slog.Logger) *Container {
	c := &Container{
		Config:     cfg,
		Logger:     logger,
		LogManager: logManager,
		DB:         db,
	}

	c.Transients = transient.NewStore(db)
	c.EventBus = event.NewBus(logger, 256)
	c.Auth = auth.NewService(db)

	pluginsDir, themesDir := cfg.Content.PluginsDir(), cfg.Content.ThemesDir()
	c.Catalog = catalog.New(pluginsDir, themesDir, logger)

	c.Engine = hookscan.NewEngine(
		hookscan.NewCollector(pluginsDir, themesDir, cfg.HookScan.Extensions),
		hookscan.NewExtractor(),
		hookscan.NewSessions(c.Transients, cfg.HookScan.PlanTTL),
		hookscan.NewEditorLinker(cfg.Content.AdminURL),
		cfg.HookScan.BatchSize,
		logger,
	)
	c.Engine.SetEventBus(c.EventBus)

	c.History = history.NewService(db, logger)
	c.History.Subscribe(c.EventBus)

	c.Maintenance = maintenance.NewService(db, cfg.Database.Path, logger)
	c.Maintenance.SetTransientStore(c.Transients)
	c.Maintenance.SetSessionCleaner(c.Auth)
	c.Maintenance.SetHistory(c.History, cfg.Maintenance.HistoryRetention)
	c.Maintenance.SetInterval(cfg.Maintenance.Interval)

	c.Backups = backup.NewService(db, cfg.Backup.Dir, cfg.Backup.Keep, logger)

	c.Watcher = watcher.NewService(c.Catalog.Roots(), c.Catalog.Invalidate, c.EventBus, logger)
	return c
}

// Run starts the background components and blocks until ctx is canceled or
// one of them fails.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.EventBus.Run(ctx) })
	g.Go(func() error { return c.Maintenance.Run(ctx) })
	if c.Config.Backup.Interval > 0 {
		g.Go(func() error { return c.Backups.Run(ctx, c.Config.Backup.Interval) })
	}
	g.Go(func() error { return c.Watcher.Run(ctx) })
	return g.Wait()
}

// Close releases the database.
func (c *Container) Close() error {
	return c.DB.Close()
}

// Check reports the readiness of every component.
func (c *Container) Check(ctx context.Context) []Readiness {
	out := make([]Readiness, 0, numComponents)
	for _, comp := range Components() {
		r := Readiness{Component: comp, Ready: true}
		if err := c.check(ctx, comp, &r); err != nil {
			r.Ready = false
			r.Detail = err.Error()
		}
		out = append(out, r)
	}
	return out
}

// Ready reports whether every component is ready.
func Ready(rs []Readiness) bool {
	for _, r := range rs {
		if !r.Ready {
			return false
		}
	}
	return true
}

func (c *Container) check(ctx context.Context, comp Component, r *Readiness) error {
	switch comp {
	case Database:
		return c.DB.PingContext(ctx)
	case TransientStore:
		n, err := c.Transients.Count(ctx)
		if err != nil {
			return err
		}
		r.Detail = fmt.Sprintf("%d entries", n)
	case EventBus:
		if c.EventBus == nil {
			return fmt.Errorf("not configured")
		}
	case Auth:
		ok, err := c.Auth.HasUsers(ctx)
		if err != nil {
			return err
		}
		if !ok {
			r.Detail = "setup required"
		}
	case Catalog:
		for _, root := range c.Catalog.Roots() {
			info, err := os.Stat(root)
			if err != nil {
				return fmt.Errorf("content root %s: %w", root, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("content root %s is not a directory", root)
			}
		}
	case Engine:
		r.Detail = fmt.Sprintf("batch size %d", c.Engine.BatchSize())
	case History:
		if _, err := c.History.List(ctx, 1); err != nil {
			return err
		}
	case Maintenance:
		st, err := c.Maintenance.Status(ctx)
		if err != nil {
			return err
		}
		if st.LastRunAt != "" {
			r.Detail = "last run " + st.LastRunAt
		}
	case Backup:
		infos, err := c.Backups.List()
		if err != nil {
			return err
		}
		if c.Config.Backup.Interval <= 0 {
			r.Detail = fmt.Sprintf("%d snapshots, schedule disabled", len(infos))
		} else {
			r.Detail = fmt.Sprintf("%d snapshots, every %s", len(infos), c.Config.Backup.Interval)
		}
	case Watcher:
		st := c.Watcher.Status()
		switch {
		case !st.Started:
			r.Detail = "not started"
		case len(st.Polled) > 0:
			r.Detail = fmt.Sprintf("polling %d roots", len(st.Polled))
		default:
			r.Detail = fmt.Sprintf("watching %d dirs", st.Watched)
		}
	default:
		return fmt.Errorf("unknown component %s", comp)
	}
	return nil
}
