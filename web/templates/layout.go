// Package templates renders the full HTML pages.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/sydlexius/coremonitor/web/components"
)

// AssetPaths holds versioned static asset URLs, base path included.
type AssetPaths struct {
	CSS     string
	AppJS   string
	HooksJS string
}

// Nav describes the signed-in user for the page header.
type Nav struct {
	BasePath string
	Username string
}

func page(title string, assets AssetPaths, nav Nav, scripts []string, body func(h *components.HTMLWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := components.NewHTMLWriter(ctx, w)
		h.Raw("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
		h.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1">` + "\n")
		h.Raw("<title>")
		h.Text(title)
		h.Raw(" | coremonitor</title>\n")
		h.Raw(`<link rel="stylesheet"`)
		h.Attr("href", assets.CSS)
		h.Raw(">\n</head>\n<body")
		h.Attr("data-base-path", nav.BasePath)
		h.Raw(">\n<header class=\"site-header\"><span class=\"brand\">coremonitor</span>")
		if nav.Username != "" {
			h.Raw(`<nav><a`)
			h.Attr("href", nav.BasePath+"/hooks")
			h.Raw(`>Hooks</a> <span class="user">`)
			h.Text(nav.Username)
			h.Raw(`</span> <button type="button" id="logout">Sign out</button></nav>`)
		}
		h.Raw("</header>\n<main>\n")
		body(h)
		h.Raw("</main>\n")
		for _, src := range scripts {
			h.Raw(`<script defer`)
			h.Attr("src", src)
			h.Raw("></script>\n")
		}
		h.Raw("</body>\n</html>\n")
		return h.Err()
	})
}

func credentialsForm(h *components.HTMLWriter, id, heading, action, submit string) {
	h.Raw(`<section class="card narrow"><h1>`)
	h.Text(heading)
	h.Raw(`</h1><form class="credentials"`)
	h.Attr("id", id)
	h.Attr("data-action", action)
	h.Raw(`>
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<div class="form-error" hidden></div>
<button type="submit">`)
	h.Text(submit)
	h.Raw("</button></form></section>\n")
}

// SetupPage asks for the first administrator account.
func SetupPage(assets AssetPaths, basePath string) templ.Component {
	return page("Setup", assets, Nav{BasePath: basePath}, []string{assets.AppJS}, func(h *components.HTMLWriter) {
		credentialsForm(h, "setup-form", "Create the administrator account", basePath+"/api/v1/auth/setup", "Create account")
	})
}

// LoginPage renders the sign-in form.
func LoginPage(assets AssetPaths, basePath string) templ.Component {
	return page("Sign in", assets, Nav{BasePath: basePath}, []string{assets.AppJS}, func(h *components.HTMLWriter) {
		credentialsForm(h, "login-form", "Sign in", basePath+"/api/v1/auth/login", "Sign in")
	})
}
