package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_DefaultConfig(t *testing.T) {
	mgr, logger := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if got := mgr.Config().Level; got != "info" {
		t.Errorf("level = %s, want info", got)
	}
	if got := mgr.Config().Format; got != "json" {
		t.Errorf("format = %s, want json", got)
	}
}

func TestManager_LevelSwapReachesChildLoggers(t *testing.T) {
	mgr, logger := NewManager(Config{Level: "info", Format: "json"})
	defer mgr.Close() //nolint:errcheck

	child := logger.With("component", "hookscan")
	ctx := context.Background()

	if child.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be disabled at info")
	}
	if err := mgr.Reconfigure(Config{Level: "debug"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !child.Enabled(ctx, slog.LevelDebug) {
		t.Error("child logger should follow level change to debug")
	}
	if err := mgr.Reconfigure(Config{Level: "error"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if child.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should be disabled at error")
	}
}

func TestManager_ReconfigureKeepsUnsetFields(t *testing.T) {
	mgr, _ := NewManager(Config{Level: "warn", Format: "text"})
	defer mgr.Close() //nolint:errcheck

	if err := mgr.Reconfigure(Config{Format: "json"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	got := mgr.Config()
	if got.Level != "warn" || got.Format != "json" {
		t.Errorf("config = %+v, want level=warn format=json", got)
	}
}

func TestManager_ReconfigureRejectsInvalid(t *testing.T) {
	mgr, _ := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if err := mgr.Reconfigure(Config{Level: "trace"}); err == nil {
		t.Error("expected error for level trace")
	}
	if err := mgr.Reconfigure(Config{Format: "xml"}); err == nil {
		t.Error("expected error for format xml")
	}
	if got := mgr.Config().Level; got != "info" {
		t.Errorf("level changed to %s after rejected reconfigure", got)
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "coremonitor.log")

	mgr, logger := NewManager(Config{Level: "info", Format: "json", FilePath: logFile})
	if got := mgr.Config().FileMaxFiles; got != 3 {
		t.Errorf("FileMaxFiles = %d, want default 3", got)
	}

	logger.With("component", "test").Info("scan finished", "scan_id", "hooks_scan_x")

	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"component":"test"`)) {
		t.Errorf("log file missing component attribute: %s", data)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr, _ := NewManager(DefaultConfig())
	if err := mgr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSwitchHandler_GroupAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newSwitchHandler(slog.NewTextHandler(&buf, nil))
	logger := slog.New(h).WithGroup("scan").With("id", "abc")
	logger.Info("batch")

	if !strings.Contains(buf.String(), "scan.id=abc") {
		t.Errorf("output = %q, want grouped attribute scan.id=abc", buf.String())
	}
}

func TestValidLevel(t *testing.T) {
	for _, l := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	for _, l := range []string{"", "trace", "fatal", "DEBUG"} {
		if ValidLevel(l) {
			t.Errorf("expected %q to be invalid", l)
		}
	}
}

func TestValidFormat(t *testing.T) {
	if !ValidFormat("text") || !ValidFormat("json") {
		t.Error("text and json should be valid")
	}
	if ValidFormat("xml") || ValidFormat("") {
		t.Error("xml and empty should be invalid")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.out)
		}
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Config{Level: "info", Format: "json"}
	if s := cfg.String(); s != "level=info format=json" {
		t.Errorf("unexpected string: %s", s)
	}

	cfg.FilePath = "/var/log/cm.log"
	cfg.FileMaxSizeMB = 50
	cfg.FileMaxFiles = 5
	cfg.FileMaxAgeDays = 7
	want := "level=info format=json file=/var/log/cm.log max_size=50MB max_files=5 max_age=7d"
	if s := cfg.String(); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}
