package components

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// ErrorToast renders an inline notice. kind is "error", "warning" or "info".
func ErrorToast(kind, message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		h.Raw(`<div role="alert"`)
		h.Attr("class", "toast toast-"+kind)
		h.Raw(`><span class="toast-message">`)
		h.Text(message)
		h.Raw("</span></div>\n")
		return h.Err()
	})
}

// Notice renders a short success message.
func Notice(message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTMLWriter(ctx, w)
		h.Raw(`<span class="notice notice-ok">`)
		h.Text(message)
		h.Raw("</span>\n")
		return h.Err()
	})
}
