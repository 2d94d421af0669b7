package hookscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCollector_PluginDirectoryPreOrder(t *testing.T) {
	plugins, themes := contentDir(t)
	root := filepath.Join(plugins, "akismet")
	writeFile(t, filepath.Join(root, "akismet.php"), "")
	writeFile(t, filepath.Join(root, "b", "z.php"), "")
	writeFile(t, filepath.Join(root, "b", "a.php"), "")
	writeFile(t, filepath.Join(root, "c.php"), "")
	writeFile(t, filepath.Join(root, "readme.txt"), "")
	writeFile(t, filepath.Join(root, "views", "nested", "deep.php"), "")

	c := NewCollector(plugins, themes, []string{"php"})
	got, err := c.Collect(context.Background(), Target{Identifier: "akismet/akismet.php", Kind: KindPlugin})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{
		"akismet/akismet.php",
		"akismet/b/a.php",
		"akismet/b/z.php",
		"akismet/c.php",
		"akismet/views/nested/deep.php",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Collect mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_SingleFilePlugin(t *testing.T) {
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(plugins, "hello.php"), "<?php")
	writeFile(t, filepath.Join(plugins, "notes.txt"), "")
	c := NewCollector(plugins, themes, nil)
	ctx := context.Background()

	got, err := c.Collect(ctx, Target{Identifier: "hello.php", Kind: KindPlugin})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if diff := cmp.Diff([]string{"hello.php"}, got); diff != "" {
		t.Errorf("Collect mismatch (-want +got):\n%s", diff)
	}

	got, err = c.Collect(ctx, Target{Identifier: "notes.txt", Kind: KindPlugin})
	if err != nil {
		t.Fatalf("Collect non-source file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Collect non-source file = %v, want empty", got)
	}

	_, err = c.Collect(ctx, Target{Identifier: "missing.php", Kind: KindPlugin})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing single file: err = %v, want ErrNotFound", err)
	}
}

func TestCollector_Theme(t *testing.T) {
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(themes, "twentytwenty", "functions.php"), "")
	writeFile(t, filepath.Join(themes, "twentytwenty", "style.css"), "")
	writeFile(t, filepath.Join(themes, "twentytwenty", "inc", "template.inc"), "")

	c := NewCollector(plugins, themes, []string{"php", "inc"})
	got, err := c.Collect(context.Background(), Target{Identifier: "twentytwenty", Kind: KindTheme})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"twentytwenty/functions.php", "twentytwenty/inc/template.inc"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Collect mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_EmptyDirectory(t *testing.T) {
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(themes, "bare", "style.css"), "")

	got, err := NewCollector(plugins, themes, nil).Collect(context.Background(), Target{Identifier: "bare", Kind: KindTheme})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Collect = %#v, want empty non-nil slice", got)
	}
}

func TestCollector_MissingRoot(t *testing.T) {
	plugins, themes := contentDir(t)
	c := NewCollector(plugins, themes, nil)

	_, err := c.Collect(context.Background(), Target{Identifier: "ghost", Kind: KindTheme})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	_, err = c.Collect(context.Background(), Target{Identifier: "ghost/ghost.php", Kind: KindPlugin})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCollector_FollowsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	plugins, themes := contentDir(t)
	shared := filepath.Join(t.TempDir(), "shared")
	writeFile(t, filepath.Join(shared, "lib.php"), "")
	writeFile(t, filepath.Join(plugins, "p", "p.php"), "")
	if err := os.Symlink(shared, filepath.Join(plugins, "p", "vendor")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(plugins, "p", "nowhere"), filepath.Join(plugins, "p", "dangling.php")); err != nil {
		t.Fatal(err)
	}

	got, err := NewCollector(plugins, themes, nil).Collect(context.Background(), Target{Identifier: "p/p.php", Kind: KindPlugin})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"p/p.php", "p/vendor/lib.php"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Collect mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_SymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(plugins, "loop", "loop.php"), "")
	if err := os.Symlink(filepath.Join(plugins, "loop"), filepath.Join(plugins, "loop", "again")); err != nil {
		t.Fatal(err)
	}

	_, err := NewCollector(plugins, themes, nil).Collect(context.Background(), Target{Identifier: "loop/loop.php", Kind: KindPlugin})
	if !errors.Is(err, ErrTraversal) {
		t.Errorf("err = %v, want ErrTraversal", err)
	}
}

func TestCollector_UnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(plugins, "locked", "locked.php"), "")
	secret := filepath.Join(plugins, "locked", "secret")
	writeFile(t, filepath.Join(secret, "x.php"), "")
	if err := os.Chmod(secret, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(secret, 0o755) })

	_, err := NewCollector(plugins, themes, nil).Collect(context.Background(), Target{Identifier: "locked/locked.php", Kind: KindPlugin})
	if !errors.Is(err, ErrTraversal) {
		t.Errorf("err = %v, want ErrTraversal", err)
	}
}

func TestCollector_CanceledContext(t *testing.T) {
	plugins, themes := contentDir(t)
	writeFile(t, filepath.Join(themes, "t", "index.php"), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(plugins, themes, nil).Collect(ctx, Target{Identifier: "t", Kind: KindTheme})
	if !errors.Is(err, ErrTraversal) {
		t.Errorf("err = %v, want ErrTraversal", err)
	}
}
