package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogging_ScrubsAndRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Scan-Id", "hooks_scan_abc")
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("gone"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/hooks/batch?scan_id=x&token=secret", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Errorf("token value leaked into log: %s", out)
	}
	for _, want := range []string{
		`"status":410`,
		`"level":"WARN"`,
		`"bytes":4`,
		`"scan_id":"hooks_scan_abc"`,
		`token=REDACTED`,
		`"component":"http"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusSeeOther, slog.LevelInfo},
		{http.StatusUnauthorized, slog.LevelInfo},
		{http.StatusForbidden, slog.LevelWarn},
		{http.StatusGone, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelFor(tt.status); got != tt.want {
			t.Errorf("levelFor(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestScrubQuery(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"a=1&b=2", "a=1&b=2"},
		{"password=x&dir=y", "password=REDACTED&dir=y"},
		{"API_KEY=z", "API_KEY=REDACTED"},
		{"flag", "flag"},
	}
	for _, tt := range tests {
		if got := scrubQuery(tt.in); got != tt.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
