package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	csrfTokenHeader = "X-CSRF-Token" //nolint:gosec // G101: header name, not a credential
	csrfCookieName  = "csrf_token"
	csrfFormField   = "csrf_token"
	csrfTokenTTL    = 24 * time.Hour
)

// CSRF is double-submit protection for browser requests: unsafe methods must
// echo the csrf_token cookie in the X-CSRF-Token header (or csrf_token form
// field), and the token must have been issued by this process within the
// last 24 hours. Requests authenticated only by a bearer token carry no
// ambient credentials and are not checked.
type CSRF struct {
	cookiePath string
	now        func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewCSRF creates the middleware. Cookies are scoped to cookiePath.
func NewCSRF(cookiePath string) *CSRF {
	if cookiePath == "" {
		cookiePath = "/"
	}
	return &CSRF{cookiePath: cookiePath, now: time.Now, issued: make(map[string]time.Time)}
}

// Middleware issues tokens on safe methods and checks them on the rest.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.ensureToken(w, r)
			next.ServeHTTP(w, r)
			return
		}
		if bearerToken(r) != "" && !hasSessionCookie(r) {
			next.ServeHTTP(w, r)
			return
		}

		sent := r.Header.Get(csrfTokenHeader)
		if sent == "" {
			sent = r.FormValue(csrfFormField)
		}
		cookie, err := r.Cookie(csrfCookieName)
		if sent == "" || err != nil ||
			subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 ||
			!c.valid(sent) {
			writeJSONError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasSessionCookie(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookie)
	return err == nil && cookie.Value != ""
}

func (c *CSRF) ensureToken(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && c.valid(cookie.Value) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    c.issue(),
		Path:     c.cookiePath,
		MaxAge:   int(csrfTokenTTL / time.Second),
		HttpOnly: false, // app.js echoes it in X-CSRF-Token
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
}

// issue creates a token and drops expired ones.
func (c *CSRF) issue() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	token := hex.EncodeToString(b)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for t, at := range c.issued {
		if now.Sub(at) > csrfTokenTTL {
			delete(c.issued, t)
		}
	}
	c.issued[token] = now
	return token
}

func (c *CSRF) valid(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.issued[token]
	return ok && c.now().Sub(at) <= csrfTokenTTL
}
