package hookscan

import (
	"fmt"
	"path"
	"strings"
)

// Kind is the type of extension being scanned.
type Kind string

// Supported kinds.
const (
	KindPlugin Kind = "plugin"
	KindTheme  Kind = "theme"
)

// ParseKind converts a scan_type value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPlugin, KindTheme:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown scan type %q", ErrInvalidTarget, s)
}

// Target identifies what is being scanned. For plugins the identifier is
// the main file relative to the plugins directory ("akismet/akismet.php" or
// "hello.php"); for themes it is the theme directory name.
type Target struct {
	Identifier string `json:"dir"`
	Kind       Kind   `json:"type"`
}

// NewTarget validates and normalizes a target.
func NewTarget(identifier, kind string) (Target, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Target{}, err
	}
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Target{}, fmt.Errorf("%w: empty identifier", ErrInvalidTarget)
	}
	if strings.ContainsRune(id, '\\') || strings.ContainsRune(id, 0) {
		return Target{}, fmt.Errorf("%w: identifier %q contains illegal characters", ErrInvalidTarget, id)
	}
	if path.IsAbs(id) {
		return Target{}, fmt.Errorf("%w: identifier %q must be relative", ErrInvalidTarget, id)
	}
	clean := path.Clean(id)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return Target{}, fmt.Errorf("%w: identifier %q escapes the content directory", ErrInvalidTarget, id)
	}
	return Target{Identifier: clean, Kind: k}, nil
}

// SingleFile reports whether the target is a plugin made of one top-level file.
func (t Target) SingleFile() bool {
	return t.Kind == KindPlugin && !strings.Contains(t.Identifier, "/")
}

func (t Target) String() string {
	return string(t.Kind) + ":" + t.Identifier
}
