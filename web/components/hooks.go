package components

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/internal/hookscan"
)

// BatchResult renders the hooks found in one batch, one block per file in
// path order.
func BatchResult(resp *hookscan.Response) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		files := make([]string, 0, len(resp.FoundHooks))
		for f := range resp.FoundHooks {
			files = append(files, f)
		}
		sort.Strings(files)

		for _, f := range files {
			report := resp.FoundHooks[f]
			h.Raw(`<section class="hook-file"`)
			h.Attr("data-file", f)
			h.Raw(`><header><h3>`)
			h.Text(f)
			h.Raw(`</h3>`)
			if report.EditURL != "" {
				h.Raw(`<a class="edit-link" target="_blank" rel="noopener"`)
				h.Attr("href", report.EditURL)
				h.Raw(`>Edit</a>`)
			}
			h.Raw("</header>\n")
			matchList(h, "Actions", "actions", report.Actions)
			matchList(h, "Filters", "filters", report.Filters)
			h.Raw("</section>\n")
		}
		return h.Err()
	})
}

func matchList(h *HTMLWriter, title, class string, matches []hookscan.Match) {
	if len(matches) == 0 {
		return
	}
	h.Raw(`<div`)
	h.Attr("class", "hook-list "+class)
	h.Raw(`><h4>`)
	h.Text(title)
	h.Raw("</h4><ul>\n")
	for _, m := range matches {
		h.Raw(`<li><span class="line">Line `)
		h.Int(m.Line)
		h.Raw(`</span> <code>`)
		h.Text(m.Text)
		h.Raw("</code></li>\n")
	}
	h.Raw("</ul></div>\n")
}

// NoHooksFound is shown when a scan completes without any match.
func NoHooksFound() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<p class="no-hooks">No hooks found.</p>`+"\n")
		return err
	})
}

// Progress renders the scan progress bar.
func Progress(processed, total int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		h.Raw(`<div class="progress"><progress`)
		h.Attr("max", strconv.Itoa(max(total, 1)))
		h.Attr("value", strconv.Itoa(processed))
		h.Raw(`></progress><span class="progress-label">`)
		h.Int(processed)
		h.Raw(" / ")
		h.Int(total)
		h.Raw(" files</span></div>\n")
		return h.Err()
	})
}
