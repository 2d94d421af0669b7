package components

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/internal/backup"
)

// BackupList renders the snapshot table. Download and delete links point
// under basePath.
func BackupList(basePath string, backups []backup.Info) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		if len(backups) == 0 {
			h.Raw(`<p class="empty">No backups yet.</p>` + "\n")
			return h.Err()
		}
		h.Raw(`<table class="backup-list"><thead><tr><th>Filename</th><th>Size</th><th>Date</th><th></th></tr></thead><tbody>` + "\n")
		for _, b := range backups {
			url := basePath + "/api/v1/maintenance/backups/" + b.Filename
			h.Raw("<tr><td>")
			h.Text(b.Filename)
			h.Raw("</td><td>")
			h.Text(FormatBytes(b.Size))
			h.Raw("</td><td>")
			h.Text(b.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
			h.Raw(`</td><td><a href="`)
			h.Text(url)
			h.Raw(`">Download</a> <button type="button" hx-delete="`)
			h.Text(url)
			h.Raw(`" hx-target="#backup-list" hx-confirm="Delete this backup?">Delete</button></td></tr>` + "\n")
		}
		h.Raw("</tbody></table>\n")
		return h.Err()
	})
}
