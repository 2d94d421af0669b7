package components

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/internal/maintenance"
)

// MaintenanceStatus renders database size and the last maintenance pass.
func MaintenanceStatus(s *maintenance.Status) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		lastRun := "Never"
		if s.LastRunAt != "" {
			if t, err := time.Parse(time.RFC3339, s.LastRunAt); err == nil {
				lastRun = t.UTC().Format("2006-01-02 15:04:05 UTC")
			} else {
				lastRun = s.LastRunAt
			}
		}
		schedule := "disabled"
		if s.ScheduleEnabled {
			schedule = "every " + s.Interval
		}

		h.Raw(`<dl class="maintenance-status">` + "\n")
		item(h, "Database size", FormatBytes(s.DBFileSize))
		item(h, "WAL size", FormatBytes(s.WALFileSize))
		item(h, "Pages", strconv.FormatInt(s.PageCount, 10)+" ("+FormatBytes(s.PageSize)+" each)")
		item(h, "Last run", lastRun)
		item(h, "Schedule", schedule)
		if s.LastRun != nil {
			item(h, "Expired plans purged", strconv.FormatInt(s.LastRun.TransientsPurged, 10))
			item(h, "History rows pruned", strconv.FormatInt(s.LastRun.HistoryPruned, 10))
		}
		h.Raw("</dl>\n")
		return h.Err()
	})
}

func item(h *HTMLWriter, label, value string) {
	h.Raw("<dt>")
	h.Text(label)
	h.Raw("</dt><dd>")
	h.Text(value)
	h.Raw("</dd>\n")
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
