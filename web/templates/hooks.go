package templates

import (
	"time"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/internal/catalog"
	"github.com/sydlexius/coremonitor/internal/history"
	"github.com/sydlexius/coremonitor/web/components"
)

// HooksPageData is everything the scanner page shows.
type HooksPageData struct {
	Nav      Nav
	Plugins  []catalog.Entry
	Themes   []catalog.Entry
	Selected string
	CanScan  bool
	History  []history.Entry
}

// HooksPage renders the hook scanner: a target picker, a progress bar and a
// results area filled in batch by batch by hookscan.js.
func HooksPage(assets AssetPaths, d HooksPageData) templ.Component {
	return page("Hooks", assets, d.Nav, []string{assets.AppJS, assets.HooksJS}, func(h *components.HTMLWriter) {
		h.Raw(`<section class="card"><h1>Scan for hooks</h1>` + "\n")
		h.Raw(`<form id="hook-scan-form"`)
		h.Attr("data-endpoint", d.Nav.BasePath+"/hooks/batch")
		h.Raw(">\n")
		h.Raw(`<label for="dir-selector">Plugin or theme</label>` + "\n")
		h.Raw(`<select id="dir-selector" name="scan_dir" required>` + "\n")
		h.Raw(`<option value="">Select...</option>` + "\n")
		optgroup(h, "Plugins", d.Plugins, d.Selected)
		optgroup(h, "Themes", d.Themes, d.Selected)
		h.Raw("</select>\n")
		if d.CanScan {
			h.Raw(`<button type="submit" id="hook-scan-start">Scan</button>` + "\n")
		} else {
			h.Raw(`<p class="notice">Only administrators can run scans.</p>` + "\n")
		}
		h.Raw("</form>\n")
		h.Raw(`<div id="hook-progress" hidden></div>` + "\n")
		h.Raw(`<div id="hook-errors"></div>` + "\n")
		h.Raw(`<div id="hook-results"></div>` + "\n")
		h.Raw("</section>\n")

		historyTable(h, d.History)
	})
}

func optgroup(h *components.HTMLWriter, label string, entries []catalog.Entry, selected string) {
	if len(entries) == 0 {
		return
	}
	h.Raw("<optgroup")
	h.Attr("label", label)
	h.Raw(">\n")
	for _, e := range entries {
		h.Raw("<option")
		h.Attr("value", e.Identifier)
		h.Attr("data-type", string(e.Kind))
		if e.Identifier == selected {
			h.Raw(" selected")
		}
		h.Raw(">")
		h.Text(e.Name)
		h.Raw("</option>\n")
	}
	h.Raw("</optgroup>\n")
}

func historyTable(h *components.HTMLWriter, entries []history.Entry) {
	h.Raw(`<section class="card"><h2>Recent scans</h2>` + "\n")
	if len(entries) == 0 {
		h.Raw(`<p class="empty">No scans yet.</p></section>` + "\n")
		return
	}
	h.Raw("<table class=\"history\"><thead><tr><th>Started</th><th>Target</th><th>Status</th>" +
		"<th>Files</th><th>Actions</th><th>Filters</th></tr></thead><tbody>\n")
	for _, e := range entries {
		h.Raw("<tr><td>")
		h.Text(e.StartedAt.Local().Format(time.DateTime))
		h.Raw("</td><td>")
		h.Text(e.Target)
		h.Raw(` <span class="kind">`)
		h.Text(e.Kind)
		h.Raw("</span></td><td")
		h.Attr("class", "status-"+e.Status)
		h.Raw(">")
		h.Text(e.Status)
		h.Raw("</td><td>")
		h.Int(e.TotalFiles)
		h.Raw("</td><td>")
		h.Int(e.ActionCount)
		h.Raw("</td><td>")
		h.Int(e.FilterCount)
		h.Raw("</td></tr>\n")
	}
	h.Raw("</tbody></table></section>\n")
}
