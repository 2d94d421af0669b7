package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/coremonitor/internal/api"
	"github.com/sydlexius/coremonitor/internal/auth"
	"github.com/sydlexius/coremonitor/internal/config"
	"github.com/sydlexius/coremonitor/internal/container"
	"github.com/sydlexius/coremonitor/internal/database"
	"github.com/sydlexius/coremonitor/internal/logging"
	"github.com/sydlexius/coremonitor/internal/version"
)

const usage = `usage:
  coremonitor                                   start the server
  coremonitor reset-credentials <user> <pass>   set a user's password and drop their sessions
  coremonitor create-token <user> <name>        print a new API token for the hookscan CLI
  coremonitor version                           print version information`

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "reset-credentials":
			err = resetCredentials(os.Args[2:])
		case "create-token":
			err = createToken(os.Args[2:])
		case "version":
			fmt.Printf("coremonitor %s (%s)\n", version.Version, version.Commit)
		case "-h", "--help", "help":
			fmt.Println(usage)
		default:
			err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("CM_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logManager, logger := logging.NewManager(logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	c, err := container.New(cfg, logManager, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	// Reload logging settings from DB (overrides config file values if present)
	if dbCfg, ok, err := logging.LoadSettings(context.Background(), c.DB, logManager.Config()); err != nil {
		logger.Warn("loading logging settings", "error", err)
	} else if ok {
		if err := logManager.Reconfigure(dbCfg); err != nil {
			logger.Warn("applying logging settings", "error", err)
		} else {
			logger.Info("applied DB logging overrides", "config", dbCfg.String())
		}
	}

	logger.Info("coremonitor starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("content_dir", cfg.Content.Dir),
		slog.Int("batch_size", cfg.HookScan.BatchSize),
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(api.DepsFromContainer(c, "web/static"))
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(ctx),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openAuth opens the configured database for an offline subcommand.
func openAuth() (*auth.Service, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return auth.NewService(db), db.Close, nil
}

// resetCredentials sets a new password for an existing user. This is an
// offline operation intended for recovery when the password is lost.
func resetCredentials(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("reset-credentials takes <user> <password>")
	}
	if len(args[1]) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	svc, closeDB, err := openAuth()
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	if err := svc.ResetCredentials(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Password for %s reset. Existing sessions were signed out.\n", args[0])
	return nil
}

// createToken prints a new API token for the named user.
func createToken(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("create-token takes <user> <name>")
	}
	svc, closeDB, err := openAuth()
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	token, err := svc.CreateAPITokenForUser(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
