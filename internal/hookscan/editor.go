package hookscan

import (
	"net/url"
	"strings"
)

// EditorLinker builds deep links into the admin file editors.
type EditorLinker struct {
	adminURL string
}

// NewEditorLinker creates a linker for the given admin base URL, for example
// "https://example.com/wp-admin/".
func NewEditorLinker(adminURL string) *EditorLinker {
	if adminURL != "" && !strings.HasSuffix(adminURL, "/") {
		adminURL += "/"
	}
	return &EditorLinker{adminURL: adminURL}
}

// Link returns the editor URL for relPath, a plan path relative to the kind
// root. Theme links split the theme directory off the path; plugin links
// pass the plugin identifier through.
func (l *EditorLinker) Link(kind Kind, identifier, relPath string) string {
	q := url.Values{}
	page := "plugin-editor.php"
	if kind == KindTheme {
		page = "theme-editor.php"
		theme, file, ok := strings.Cut(relPath, "/")
		if !ok {
			theme, file = identifier, relPath
		}
		q.Set("theme", theme)
		q.Set("file", file)
	} else {
		q.Set("plugin", identifier)
		q.Set("file", relPath)
	}
	return l.adminURL + page + "?" + q.Encode()
}
