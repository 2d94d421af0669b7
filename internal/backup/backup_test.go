package backup

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sydlexius/coremonitor/internal/database"
)

type fixture struct {
	svc *Service
	dir string
	now time.Time
}

func newFixture(t *testing.T, keep int) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "cm.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	if _, err := db.ExecContext(context.Background(),
		`INSERT INTO settings (key, value, updated_at) VALUES ('probe', 'hello', '')`); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	f := &fixture{
		dir: filepath.Join(t.TempDir(), "backups"),
		now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.svc = NewService(db, f.dir, keep, logger)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

// create takes a snapshot and advances the clock by step.
func (f *fixture) create(t *testing.T, step time.Duration) *Info {
	t.Helper()
	info, err := f.svc.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.now = f.now.Add(step)
	return info
}

func TestCreate(t *testing.T) {
	f := newFixture(t, 7)
	info := f.create(t, time.Second)

	if info.Filename != "coremonitor-20260501-120000.db" || info.Size == 0 {
		t.Fatalf("info = %+v", info)
	}

	snap, err := sql.Open("sqlite", filepath.Join(f.dir, info.Filename))
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer snap.Close() //nolint:errcheck
	var v string
	if err := snap.QueryRowContext(context.Background(), `SELECT value FROM settings WHERE key = 'probe'`).Scan(&v); err != nil {
		t.Fatalf("querying backup: %v", err)
	}
	if v != "hello" {
		t.Errorf("value = %q, want hello", v)
	}

	f.now = f.now.Add(-time.Second)
	if _, err := f.svc.Create(context.Background()); err == nil {
		t.Error("expected error for a snapshot that already exists")
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, 7)
	if list, err := f.svc.List(); err != nil || len(list) != 0 {
		t.Fatalf("List on missing dir = %v, %v", list, err)
	}

	for range 3 {
		f.create(t, time.Minute)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, b := range list {
		names = append(names, b.Filename)
	}
	want := []string{
		"coremonitor-20260501-120200.db",
		"coremonitor-20260501-120100.db",
		"coremonitor-20260501-120000.db",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestPrune(t *testing.T) {
	f := newFixture(t, 2)
	for range 4 {
		f.create(t, time.Hour)
	}

	n, err := f.svc.Prune()
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v; want 2", n, err)
	}
	list, _ := f.svc.List()
	if len(list) != 2 || list[0].Filename != "coremonitor-20260501-150000.db" {
		t.Errorf("remaining = %+v", list)
	}
}

func TestPrune_MaxAge(t *testing.T) {
	f := newFixture(t, 0)
	f.create(t, 48*time.Hour)
	f.create(t, time.Hour)
	f.svc.SetMaxAge(24 * time.Hour)

	n, err := f.svc.Prune()
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	list, _ := f.svc.List()
	if len(list) != 1 || list[0].Filename != "coremonitor-20260503-120000.db" {
		t.Errorf("remaining = %+v", list)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 7)
	info := f.create(t, time.Second)

	if err := f.svc.Delete("../cm.db"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("traversal: err = %v, want ErrInvalidName", err)
	}
	if err := f.svc.Delete(info.Filename); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if list, _ := f.svc.List(); len(list) != 0 {
		t.Errorf("backup still listed: %+v", list)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.svc.Run(ctx, time.Hour); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"coremonitor-20260501-120000.db", true},
		{"snapshot-20260501-120000.db", false},
		{"coremonitor-20260501-120000.db.bak", false},
		{"../coremonitor-20260501-120000.db", false},
		{`dir\coremonitor-20260501-120000.db`, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
