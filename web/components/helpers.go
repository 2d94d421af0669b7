package components

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// HTMLWriter writes markup to w, remembering the first write error.
type HTMLWriter struct {
	ctx context.Context
	w   io.Writer
	err error
}

// NewHTMLWriter wraps w. ctx is passed to nested components.
func NewHTMLWriter(ctx context.Context, w io.Writer) *HTMLWriter {
	return &HTMLWriter{ctx: ctx, w: w}
}

// Raw writes trusted markup.
func (h *HTMLWriter) Raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

// Text writes s HTML-escaped.
func (h *HTMLWriter) Text(s string) {
	h.Raw(templ.EscapeString(s))
}

// Int writes n in decimal.
func (h *HTMLWriter) Int(n int) {
	h.Raw(strconv.Itoa(n))
}

// Attr writes ` name="value"` with value escaped.
func (h *HTMLWriter) Attr(name, value string) {
	h.Raw(" " + name + `="` + templ.EscapeString(value) + `"`)
}

// Component renders c in place.
func (h *HTMLWriter) Component(c templ.Component) {
	if h.err != nil {
		return
	}
	h.err = c.Render(h.ctx, h.w)
}

// Err returns the first write error.
func (h *HTMLWriter) Err() error {
	return h.err
}
