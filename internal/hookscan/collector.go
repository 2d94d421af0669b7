package hookscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Collector enumerates the source files of a plugin or theme.
type Collector struct {
	pluginsDir string
	themesDir  string
	extensions []string
}

// NewCollector creates a collector rooted at the given plugins and themes
// directories. Extensions are matched without the leading dot.
func NewCollector(pluginsDir, themesDir string, extensions []string) *Collector {
	if len(extensions) == 0 {
		extensions = []string{"php"}
	}
	return &Collector{
		pluginsDir: pluginsDir,
		themesDir:  themesDir,
		extensions: extensions,
	}
}

// KindRoot returns the directory that plan paths of kind are relative to.
func (c *Collector) KindRoot(k Kind) string {
	if k == KindTheme {
		return c.themesDir
	}
	return c.pluginsDir
}

// Collect returns the target's source files as slash-separated paths
// relative to the kind root, in deterministic pre-order: entries of each
// directory are visited lexicographically and subdirectories are descended
// in place. Symbolic links are followed.
func (c *Collector) Collect(ctx context.Context, t Target) ([]string, error) {
	kindRoot := c.KindRoot(t.Kind)

	if t.SingleFile() {
		p := filepath.Join(kindRoot, t.Identifier)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, t.Identifier)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTraversal, t.Identifier, err)
		}
		if !info.Mode().IsRegular() || !c.matches(t.Identifier) {
			return []string{}, nil
		}
		return []string{t.Identifier}, nil
	}

	rootRel := t.Identifier
	if t.Kind == KindPlugin {
		rootRel = path.Dir(t.Identifier)
	}
	root := filepath.Join(kindRoot, filepath.FromSlash(rootRel))
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rootRel)
	}

	w := walker{ctx: ctx, c: c, files: []string{}}
	if err := w.walk(root, rootRel, nil); err != nil {
		return nil, err
	}
	return w.files, nil
}

func (c *Collector) matches(name string) bool {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	return ext != "" && slices.Contains(c.extensions, ext)
}

type walker struct {
	ctx   context.Context
	c     *Collector
	files []string
}

// walk visits dir, whose path relative to the kind root is rel. ancestors
// holds the resolved paths of the directories above dir and is used to
// detect symlink cycles.
func (w *walker) walk(dir, rel string, ancestors []string) error {
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTraversal, err)
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrTraversal, rel, err)
	}
	if slices.Contains(ancestors, resolved) {
		return fmt.Errorf("%w: symlink cycle at %s", ErrTraversal, rel)
	}
	ancestors = append(ancestors, resolved)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrTraversal, rel, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		childRel := path.Join(rel, name)

		info, err := os.Stat(full)
		if err != nil {
			// Dangling symlinks are skipped.
			if entry.Type()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: %s: %v", ErrTraversal, childRel, err)
		}

		switch {
		case info.IsDir():
			if err := w.walk(full, childRel, ancestors); err != nil {
				return err
			}
		case info.Mode().IsRegular() && w.c.matches(name):
			w.files = append(w.files, childRel)
		}
	}
	return nil
}
