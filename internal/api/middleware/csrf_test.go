package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func csrfHandler(c *CSRF) http.Handler {
	return c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRF_SafeMethodSetsToken(t *testing.T) {
	c := NewCSRF("/cm")
	w := httptest.NewRecorder()
	csrfHandler(c).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cm/hooks", nil))

	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == csrfCookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("CSRF cookie not set on GET")
	}
	if cookie.Value == "" || cookie.Path != "/cm" || cookie.SameSite != http.SameSiteStrictMode || cookie.HttpOnly {
		t.Errorf("cookie = %+v", cookie)
	}

	// A still-valid cookie is not replaced.
	req := httptest.NewRequest(http.MethodHead, "/cm/hooks", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	csrfHandler(c).ServeHTTP(w, req)
	if len(w.Result().Cookies()) != 0 {
		t.Error("valid cookie was re-issued")
	}
}

func TestCSRF_UnsafeMethods(t *testing.T) {
	c := NewCSRF("")
	token := c.issue()
	other := c.issue()

	tests := []struct {
		name   string
		cookie string
		header string
		form   string
		want   int
	}{
		{"no token", "", "", "", http.StatusForbidden},
		{"header matches cookie", token, token, "", http.StatusOK},
		{"form field matches cookie", token, "", token, http.StatusOK},
		{"header without cookie", "", token, "", http.StatusForbidden},
		{"header differs from cookie", token, other, "", http.StatusForbidden},
		{"unissued token", "bogus", "bogus", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.form != "" {
				body = strings.NewReader(url.Values{csrfFormField: {tt.form}}.Encode())
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(http.MethodPost, "/hooks/batch", body)
			if tt.form != "" {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfTokenHeader, tt.header)
			}
			w := httptest.NewRecorder()
			csrfHandler(c).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCSRF_TokenExpires(t *testing.T) {
	c := NewCSRF("")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	token := c.issue()

	now = now.Add(csrfTokenTTL + time.Minute)
	if c.valid(token) {
		t.Error("expired token still valid")
	}
	c.issue()
	if _, ok := c.issued[token]; ok {
		t.Error("expired token not dropped on next issue")
	}
}

func TestCSRF_BearerRequestsSkipCheck(t *testing.T) {
	h := csrfHandler(NewCSRF(""))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/batch", nil)
	req.Header.Set("Authorization", "Bearer cmt_abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer only: status = %d, want 200", w.Code)
	}

	// A session cookie makes the request ambient again.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/hooks/batch", nil)
	req.Header.Set("Authorization", "Bearer cmt_abc")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("bearer with cookie: status = %d, want 403", w.Code)
	}
}
