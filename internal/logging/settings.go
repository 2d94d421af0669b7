package logging

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Settings keys for persisted logging overrides.
const (
	keyLevel       = "logging.level"
	keyFormat      = "logging.format"
	keyFilePath    = "logging.file_path"
	keyFileMaxSize = "logging.file_max_size_mb"
	keyFileMaxKeep = "logging.file_max_files"
	keyFileMaxAge  = "logging.file_max_age_days"
)

// SaveSettings writes cfg to the settings table so it survives restarts.
func SaveSettings(ctx context.Context, db *sql.DB, cfg Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	values := map[string]string{
		keyLevel:       cfg.Level,
		keyFormat:      cfg.Format,
		keyFilePath:    cfg.FilePath,
		keyFileMaxSize: strconv.Itoa(cfg.FileMaxSizeMB),
		keyFileMaxKeep: strconv.Itoa(cfg.FileMaxFiles),
		keyFileMaxAge:  strconv.Itoa(cfg.FileMaxAgeDays),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now); err != nil {
			return fmt.Errorf("saving %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LoadSettings overlays persisted overrides on base. ok is false when no
// level or format was ever saved. Invalid stored values are ignored.
func LoadSettings(ctx context.Context, db *sql.DB, base Config) (cfg Config, ok bool, err error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE 'logging.%'`)
	if err != nil {
		return base, false, fmt.Errorf("querying logging settings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	stored := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return base, false, fmt.Errorf("scanning logging setting: %w", err)
		}
		stored[k] = v
	}
	if err := rows.Err(); err != nil {
		return base, false, err
	}
	if stored[keyLevel] == "" && stored[keyFormat] == "" {
		return base, false, nil
	}

	cfg = base
	if v := stored[keyLevel]; ValidLevel(v) {
		cfg.Level = v
	}
	if v := stored[keyFormat]; ValidFormat(v) {
		cfg.Format = v
	}
	if v, present := stored[keyFilePath]; present {
		cfg.FilePath = v
	}
	for key, dst := range map[string]*int{
		keyFileMaxSize: &cfg.FileMaxSizeMB,
		keyFileMaxKeep: &cfg.FileMaxFiles,
		keyFileMaxAge:  &cfg.FileMaxAgeDays,
	} {
		if n, err := strconv.Atoi(stored[key]); err == nil && n > 0 {
			*dst = n
		}
	}
	return cfg, true, nil
}
