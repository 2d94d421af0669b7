package api

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// versionLen is the number of hex digits of the content hash put in ?v=.
const versionLen = 12

// StaticAssets serves web/static under <basePath>/static/. URLs built by
// Path carry ?v=<content hash>; a request whose version matches the file on
// disk is cacheable forever.
type StaticAssets struct {
	dir      string
	prefix   string
	versions map[string]string // "/js/hookscan.js" -> version
}

// NewStaticAssets hashes every file under dir once.
func NewStaticAssets(dir, basePath string, logger *slog.Logger) *StaticAssets {
	sa := &StaticAssets{
		dir:      dir,
		prefix:   basePath + "/static",
		versions: hashDir(dir, logger),
	}
	logger.Debug("static assets hashed", slog.String("dir", dir), slog.Int("files", len(sa.versions)))
	return sa
}

// Path returns the versioned URL of a file, e.g. Path("/js/app.js") is
// "/cm/static/js/app.js?v=0123456789ab" under base path /cm. Unknown files
// get an unversioned URL.
func (sa *StaticAssets) Path(name string) string {
	v, ok := sa.versions[name]
	if !ok {
		return sa.prefix + name
	}
	return sa.prefix + name + "?v=" + v
}

// Handler serves the files with cache headers chosen by the ?v= parameter.
func (sa *StaticAssets) Handler() http.Handler {
	files := http.StripPrefix(sa.prefix+"/", http.FileServer(http.Dir(sa.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, sa.prefix)
		switch v := r.URL.Query().Get("v"); {
		case v == "":
			w.Header().Set("Cache-Control", "public, max-age=300")
		case v == sa.versions[name]:
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		default:
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})
}

func hashDir(dir string, logger *slog.Logger) map[string]string {
	versions := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("hashing static file", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		sum := sha256.Sum256(data)
		versions["/"+filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])[:versionLen]
		return nil
	})
	if err != nil {
		logger.Warn("scanning static assets", "dir", dir, "error", err)
	}
	return versions
}
