package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sydlexius/coremonitor/internal/api/middleware"
	"github.com/sydlexius/coremonitor/internal/auth"
	"github.com/sydlexius/coremonitor/internal/backup"
	"github.com/sydlexius/coremonitor/internal/catalog"
	"github.com/sydlexius/coremonitor/internal/container"
	"github.com/sydlexius/coremonitor/internal/history"
	"github.com/sydlexius/coremonitor/internal/hookscan"
	"github.com/sydlexius/coremonitor/internal/logging"
	"github.com/sydlexius/coremonitor/internal/maintenance"
)

// HealthChecker reports per-component readiness.
type HealthChecker interface {
	Check(ctx context.Context) []container.Readiness
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	AuthService        *auth.Service
	Engine             *hookscan.Engine
	Catalog            *catalog.Catalog
	History            *history.Service
	MaintenanceService *maintenance.Service
	BackupService      *backup.Service
	LogManager         *logging.Manager
	Health             HealthChecker
	DB                 *sql.DB
	Logger             *slog.Logger
	BasePath           string
	StaticDir          string
}

// DepsFromContainer fills RouterDeps from the application container.
func DepsFromContainer(c *container.Container, staticDir string) RouterDeps {
	return RouterDeps{
		AuthService:        c.Auth,
		Engine:             c.Engine,
		Catalog:            c.Catalog,
		History:            c.History,
		MaintenanceService: c.Maintenance,
		BackupService:      c.Backups,
		LogManager:         c.LogManager,
		Health:             c,
		DB:                 c.DB,
		Logger:             c.Logger,
		BasePath:           c.Config.Server.BasePath,
		StaticDir:          staticDir,
	}
}

// Router sets up all HTTP routes for the application.
type Router struct {
	authService        *auth.Service
	engine             *hookscan.Engine
	catalog            *catalog.Catalog
	history            *history.Service
	maintenanceService *maintenance.Service
	backupService      *backup.Service
	logManager         *logging.Manager
	health             HealthChecker
	db                 *sql.DB
	logger             *slog.Logger
	basePath           string
	staticAssets       *StaticAssets
	csrf               *middleware.CSRF
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		authService:        deps.AuthService,
		engine:             deps.Engine,
		catalog:            deps.Catalog,
		history:            deps.History,
		maintenanceService: deps.MaintenanceService,
		backupService:      deps.BackupService,
		logManager:         deps.LogManager,
		health:             deps.Health,
		db:                 deps.DB,
		logger:             deps.Logger,
		basePath:           deps.BasePath,
		staticAssets:       NewStaticAssets(deps.StaticDir, deps.BasePath, deps.Logger),
		csrf:               middleware.NewCSRF(deps.BasePath),
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
// ctx bounds background work such as rate limiter cleanup.
func (r *Router) Handler(ctx context.Context) http.Handler {
	authMw := middleware.Auth(r.authService)
	optAuth := middleware.OptionalAuth(r.authService)
	loginLimiter := middleware.NewLoginRateLimiter(ctx)
	batchLimiter := middleware.NewBatchRateLimiter(ctx)
	admin := middleware.RequireCapability(auth.CapManageOptions)
	mux := http.NewServeMux()
	bp := r.basePath

	// Public routes (no auth)
	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.Handle("POST "+bp+"/api/v1/auth/login", loginLimiter.Middleware(http.HandlerFunc(r.handleLogin)))
	mux.Handle("POST "+bp+"/api/v1/auth/setup", loginLimiter.Middleware(http.HandlerFunc(r.handleSetup)))
	mux.Handle("GET "+bp+"/static/", r.staticAssets.Handler())
	mux.Handle("GET "+bp+"/metrics", promhttp.Handler())

	// Protected routes (auth required)
	mux.HandleFunc("POST "+bp+"/api/v1/auth/logout", wrapAuth(r.handleLogout, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/auth/me", wrapAuth(r.handleMe, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/auth/tokens", wrapAuth(r.handleListAPITokens, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/auth/tokens", wrapAuth(r.handleCreateAPIToken, authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/auth/tokens/{id}", wrapAuth(r.handleRevokeAPIToken, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/users", wrapAuth(admin(r.handleListUsers), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/users", wrapAuth(admin(r.handleCreateUser), authMw))

	// Hook scanner
	mux.HandleFunc("GET "+bp+"/api/v1/extensions", wrapAuth(r.handleListExtensions, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/hooks/batch", wrapAuth(batchLimiter.Wrap(r.handleHookBatch), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/hooks/history", wrapAuth(r.handleListHistory, authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/hooks/history/{id}", wrapAuth(r.handleGetHistory, authMw))

	// Operations
	mux.HandleFunc("GET "+bp+"/api/v1/logging", wrapAuth(admin(r.handleGetLogging), authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/logging", wrapAuth(admin(r.handleUpdateLogging), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/status", wrapAuth(r.handleMaintenanceStatus, authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/run", wrapAuth(admin(r.handleMaintenanceRun), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/vacuum", wrapAuth(admin(r.handleMaintenanceVacuum), authMw))
	mux.HandleFunc("PUT "+bp+"/api/v1/maintenance/schedule", wrapAuth(admin(r.handleMaintenanceSchedule), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/backups", wrapAuth(admin(r.handleBackupList), authMw))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/backups", wrapAuth(admin(r.handleBackupCreate), authMw))
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/backups/{name}", wrapAuth(admin(r.handleBackupDownload), authMw))
	mux.HandleFunc("DELETE "+bp+"/api/v1/maintenance/backups/{name}", wrapAuth(admin(r.handleBackupDelete), authMw))

	// Web routes (auth checked in handlers)
	mux.Handle("GET "+bp+"/{$}", optAuth(http.HandlerFunc(r.handleIndex)))
	mux.Handle("GET "+bp+"/hooks", optAuth(http.HandlerFunc(r.handleHooksPage)))
	mux.HandleFunc("POST "+bp+"/hooks/batch", wrapAuth(batchLimiter.Wrap(r.handleHookBatchFragment), authMw))

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(r.csrf.Middleware(mux)))
}

// wrapAuth wraps a handler function with auth middleware.
func wrapAuth(fn http.HandlerFunc, authMw func(http.Handler) http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authMw(fn).ServeHTTP(w, r)
	}
}
