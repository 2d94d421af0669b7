// Package catalog lists the plugins and themes installed under the content
// directory.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	regexp "github.com/wasilibs/go-re2"

	"github.com/sydlexius/coremonitor/internal/hookscan"
)

// headerBytes is how much of a file is searched for header fields.
const headerBytes = 8 << 10

var (
	pluginNameHeader = regexp.MustCompile(`(?mi)^[ \t/*#@]*Plugin Name:(.*)$`)
	themeNameHeader  = regexp.MustCompile(`(?mi)^[ \t/*#@]*Theme Name:(.*)$`)
)

// Entry is one installed plugin or theme. Identifier is what a scan target
// takes: the main plugin file relative to plugins/, or the theme directory.
type Entry struct {
	Identifier string        `json:"identifier"`
	Name       string        `json:"name"`
	Kind       hookscan.Kind `json:"type"`
}

// Catalog enumerates installed extensions and caches the result until
// Invalidate is called.
type Catalog struct {
	pluginsDir string
	themesDir  string
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[hookscan.Kind][]Entry
}

// New creates a catalog for the given plugins and themes directories.
func New(pluginsDir, themesDir string, logger *slog.Logger) *Catalog {
	return &Catalog{
		pluginsDir: pluginsDir,
		themesDir:  themesDir,
		logger:     logger.With("component", "catalog"),
		cache:      make(map[hookscan.Kind][]Entry),
	}
}

// Roots returns the directories the catalog reads.
func (c *Catalog) Roots() []string {
	return []string{c.pluginsDir, c.themesDir}
}

// Enumerate returns the installed extensions of kind. A missing root
// directory yields an empty list.
func (c *Catalog) Enumerate(ctx context.Context, kind hookscan.Kind) ([]Entry, error) {
	c.mu.Lock()
	if cached, ok := c.cache[kind]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var (
		entries []Entry
		err     error
	)
	switch kind {
	case hookscan.KindPlugin:
		entries, err = c.plugins(ctx)
	case hookscan.KindTheme:
		entries, err = c.themes(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", hookscan.ErrInvalidTarget, kind)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[kind] = entries
	c.mu.Unlock()
	return entries, nil
}

// Invalidate drops the cached lists.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[hookscan.Kind][]Entry)
	c.mu.Unlock()
	c.logger.Debug("catalog cache invalidated")
}

// Lookup returns the entry for identifier, if installed.
func (c *Catalog) Lookup(ctx context.Context, kind hookscan.Kind, identifier string) (Entry, bool, error) {
	entries, err := c.Enumerate(ctx, kind)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Identifier == identifier {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// plugins looks for plugin headers in top-level PHP files and in PHP files
// one directory down.
func (c *Catalog) plugins(ctx context.Context) ([]Entry, error) {
	top, err := os.ReadDir(c.pluginsDir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	entries := []Entry{}
	add := func(rel string) {
		name, ok := readHeader(filepath.Join(c.pluginsDir, filepath.FromSlash(rel)), pluginNameHeader)
		if ok && name != "" {
			entries = append(entries, Entry{Identifier: rel, Name: name, Kind: hookscan.KindPlugin})
		}
	}

	for _, d := range top {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(c.pluginsDir, d.Name())
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if strings.HasSuffix(d.Name(), ".php") {
				add(d.Name())
			}
			continue
		}
		sub, err := os.ReadDir(full)
		if err != nil {
			c.logger.Warn("skipping unreadable plugin directory", "path", full, "error", err)
			continue
		}
		for _, f := range sub {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".php") {
				add(d.Name() + "/" + f.Name())
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].Identifier < entries[j].Identifier
	})
	return entries, nil
}

// themes lists theme directories, named by the style.css header when present.
func (c *Catalog) themes(ctx context.Context) ([]Entry, error) {
	dirs, err := os.ReadDir(c.themesDir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading themes directory: %w", err)
	}

	entries := []Entry{}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(c.themesDir, d.Name())
		if info, err := os.Stat(full); err != nil || !info.IsDir() {
			continue
		}
		name, ok := readHeader(filepath.Join(full, "style.css"), themeNameHeader)
		if !ok || name == "" {
			name = d.Name()
		}
		entries = append(entries, Entry{Identifier: d.Name(), Name: name, Kind: hookscan.KindTheme})
	}
	return entries, nil
}

// readHeader returns the first value of header within the first headerBytes
// of the file at path.
func readHeader(path string, header *regexp.Regexp) (string, bool) {
	f, err := os.Open(path) //nolint:gosec // G304: path is under the content directory
	if err != nil {
		return "", false
	}
	defer f.Close() //nolint:errcheck

	buf, err := io.ReadAll(io.LimitReader(f, headerBytes))
	if err != nil {
		return "", false
	}
	m := header.FindSubmatch(buf)
	if m == nil {
		return "", false
	}
	value := strings.TrimSpace(string(m[1]))
	value = strings.TrimSpace(strings.TrimSuffix(value, "*/"))
	return value, true
}
