package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 24 * time.Hour

// APITokenPrefix marks bearer tokens that are API tokens rather than
// session ids.
const APITokenPrefix = "cmt_"

// Errors returned by the auth service.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenNotFound      = errors.New("token not found")
)

// Role is a user's role.
type Role string

// Roles.
const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleViewer:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q; must be admin or viewer", s)
}

// Capability names an action that requires a role.
type Capability string

// Capabilities.
const (
	// CapManageOptions allows running scans and changing settings.
	CapManageOptions Capability = "manage_options"
	// CapRead allows viewing pages, history and the extension catalog.
	CapRead Capability = "read"
)

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	switch c {
	case CapRead:
		return r == RoleAdmin || r == RoleViewer
	case CapManageOptions:
		return r == RoleAdmin
	}
	return false
}

// Identity is an authenticated principal.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// User is a stored account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// APIToken describes a stored API token. The plaintext is only returned once,
// at creation.
type APIToken struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Service provides authentication operations.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates an auth service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Setup creates the initial admin account if no users exist.
// Returns true if a new account was created.
func (s *Service) Setup(ctx context.Context, username, password string) (bool, error) {
	has, err := s.HasUsers(ctx)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, username, password, RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser adds an account.
func (s *Service) CreateUser(ctx context.Context, username, password string, role Role) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword(prehashPassword(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Username, string(hash), string(u.Role), u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account ordered by username.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var users []User
	for rows.Next() {
		var (
			u         User
			role      string
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Username, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Role = Role(role)
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ResetCredentials replaces the password of username and drops its sessions.
func (s *Service) ResetCredentials(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword(prehashPassword(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("querying user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), id); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("dropping sessions: %w", err)
	}
	return nil
}

// Login authenticates a user and returns a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM users WHERE username = ?
	`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("querying user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), prehashPassword(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, token, id, now.Format(time.RFC3339), now.Add(sessionDuration).Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	return token, nil
}

// ValidateSession checks a session token and returns its identity.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Identity, error) {
	var (
		id        Identity
		role      string
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.role, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, token).Scan(&id.UserID, &id.Username, &role, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry: %w", err)
	}
	if s.now().UTC().After(expires) {
		_ = s.Logout(ctx, token)
		return nil, ErrInvalidSession
	}

	id.Role = Role(role)
	return &id, nil
}

// Logout deletes a session.
func (s *Service) Logout(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", token)
	return err
}

// CleanExpiredSessions removes all expired sessions.
func (s *Service) CleanExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < ?
	`, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	return res.RowsAffected()
}

// HasUsers returns true if at least one user account exists.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}
	return count > 0, nil
}

// CreateAPIToken issues a token for userID and returns its plaintext and id.
// Only a SHA-256 digest of the plaintext is stored.
func (s *Service) CreateAPIToken(ctx context.Context, userID, name string) (plaintext, id string, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("token name is required")
	}
	raw, err := generateToken()
	if err != nil {
		return "", "", fmt.Errorf("generating api token: %w", err)
	}
	plaintext = APITokenPrefix + raw
	id = uuid.New().String()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, name, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, userID, name, hashToken(plaintext), s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", "", fmt.Errorf("creating api token: %w", err)
	}
	return plaintext, id, nil
}

// CreateAPITokenForUser issues a token for the named user.
func (s *Service) CreateAPITokenForUser(ctx context.Context, username, name string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return "", fmt.Errorf("querying user: %w", err)
	}
	plaintext, _, err := s.CreateAPIToken(ctx, userID, name)
	return plaintext, err
}

// ValidateAPIToken resolves a plaintext API token to its owner.
func (s *Service) ValidateAPIToken(ctx context.Context, plaintext string) (*Identity, error) {
	if !strings.HasPrefix(plaintext, APITokenPrefix) {
		return nil, ErrInvalidCredentials
	}
	var (
		tokenID string
		id      Identity
		role    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, u.id, u.username, u.role
		FROM api_tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?
	`, hashToken(plaintext)).Scan(&tokenID, &id.UserID, &id.Username, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("querying api token: %w", err)
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`,
		s.now().UTC().Format(time.RFC3339), tokenID)

	id.Role = Role(role)
	return &id, nil
}

// ListAPITokens lists the tokens owned by userID, newest first.
func (s *Service) ListAPITokens(ctx context.Context, userID string) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, last_used_at FROM api_tokens
		WHERE user_id = ? ORDER BY created_at DESC, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api tokens: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tokens []APIToken
	for rows.Next() {
		var (
			t         APIToken
			createdAt string
			lastUsed  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Name, &createdAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scanning api token: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastUsed.Valid {
			if lu, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
				t.LastUsedAt = &lu
			}
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RevokeAPIToken deletes a token owned by userID.
func (s *Service) RevokeAPIToken(ctx context.Context, tokenID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ? AND user_id = ?`, tokenID, userID)
	if err != nil {
		return fmt.Errorf("revoking api token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// prehashPassword hashes the password with SHA-256 before bcrypt to support
// passwords longer than bcrypt's 72-byte limit. The hex-encoded SHA-256
// digest is 64 bytes, safely within the limit.
func prehashPassword(password string) []byte {
	h := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(h[:]))
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
