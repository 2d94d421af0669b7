package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Content     ContentConfig     `yaml:"content"`
	HookScan    HookScanConfig    `yaml:"hookscan"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ContentConfig locates the platform's content directory (the one holding
// plugins/ and themes/) and the admin URL used for editor deep links.
type ContentConfig struct {
	Dir      string `yaml:"dir"`
	AdminURL string `yaml:"admin_url"`
}

// PluginsDir returns the plugins root under the content directory.
func (c ContentConfig) PluginsDir() string {
	return filepath.Join(c.Dir, "plugins")
}

// ThemesDir returns the themes root under the content directory.
func (c ContentConfig) ThemesDir() string {
	return filepath.Join(c.Dir, "themes")
}

// HookScanConfig holds batch scanner settings.
type HookScanConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	PlanTTL    time.Duration `yaml:"plan_ttl"`
	Extensions []string      `yaml:"extensions"`
}

// MaintenanceConfig holds the database housekeeping schedule.
type MaintenanceConfig struct {
	Interval         time.Duration `yaml:"interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// BackupConfig holds the database snapshot schedule. A zero interval
// disables scheduled snapshots; manual ones still work.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/coremonitor.db",
		},
		Content: ContentConfig{
			Dir:      "/var/www/html/wp-content",
			AdminURL: "http://localhost/wp-admin/",
		},
		HookScan: HookScanConfig{
			BatchSize:  25,
			PlanTTL:    time.Hour,
			Extensions: []string{"php"},
		},
		Maintenance: MaintenanceConfig{
			Interval:         15 * time.Minute,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		Backup: BackupConfig{
			Dir:  "/data/backups",
			Keep: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("CM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CM_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("CM_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CM_CONTENT_DIR"); v != "" {
		c.Content.Dir = v
	}
	if v := os.Getenv("CM_ADMIN_URL"); v != "" {
		c.Content.AdminURL = v
	}
	if v := os.Getenv("CM_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CM_BATCH_SIZE: %w", err)
		}
		c.HookScan.BatchSize = n
	}
	if v := os.Getenv("CM_PLAN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CM_PLAN_TTL: %w", err)
		}
		c.HookScan.PlanTTL = d
	}
	if v := os.Getenv("CM_SCAN_EXTENSIONS"); v != "" {
		c.HookScan.Extensions = strings.Split(v, ",")
	}
	if v := os.Getenv("CM_MAINTENANCE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CM_MAINTENANCE_INTERVAL: %w", err)
		}
		c.Maintenance.Interval = d
	}
	if v := os.Getenv("CM_HISTORY_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CM_HISTORY_RETENTION: %w", err)
		}
		c.Maintenance.HistoryRetention = d
	}
	if v := os.Getenv("CM_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("CM_BACKUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CM_BACKUP_INTERVAL: %w", err)
		}
		c.Backup.Interval = d
	}
	if v := os.Getenv("CM_BACKUP_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CM_BACKUP_KEEP: %w", err)
		}
		c.Backup.Keep = n
	}
	if v := os.Getenv("CM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CM_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Content.Dir == "" {
		return fmt.Errorf("content directory is required")
	}
	if c.HookScan.BatchSize < 1 {
		return fmt.Errorf("invalid batch size: %d", c.HookScan.BatchSize)
	}
	if c.HookScan.PlanTTL <= 0 {
		return fmt.Errorf("invalid plan ttl: %s", c.HookScan.PlanTTL)
	}

	exts := make([]string, 0, len(c.HookScan.Extensions))
	for _, e := range c.HookScan.Extensions {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			exts = append(exts, e)
		}
	}
	if len(exts) == 0 {
		return fmt.Errorf("at least one scan extension is required")
	}
	c.HookScan.Extensions = exts

	if c.Maintenance.Interval <= 0 {
		c.Maintenance.Interval = 15 * time.Minute
	}
	if c.Maintenance.HistoryRetention <= 0 {
		c.Maintenance.HistoryRetention = 30 * 24 * time.Hour
	}

	if c.Backup.Interval < 0 {
		return fmt.Errorf("invalid backup interval: %s", c.Backup.Interval)
	}
	if c.Backup.Keep < 0 {
		c.Backup.Keep = 0
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}

	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}
