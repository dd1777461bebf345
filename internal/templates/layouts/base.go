package layouts

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Writer emits markup and remembers the first write error, so components
// can build a page without checking every call.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Raw writes trusted markup.
func (w *Writer) Raw(s string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

// Text writes HTML-escaped text.
func (w *Writer) Text(s string) {
	w.Raw(templ.EscapeString(s))
}

// Component renders a child component in place.
func (w *Writer) Component(ctx context.Context, c templ.Component) {
	if w.err != nil || c == nil {
		return
	}
	w.err = c.Render(ctx, w.w)
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// CSRFField renders the hidden CSRF input every form must carry.
func CSRFField(ctx context.Context, w *Writer) {
	w.Raw(`<input type="hidden" name="csrf_token" value="`)
	w.Text(GetCSRFToken(ctx))
	w.Raw(`">`)
}

// Base wraps page content with the document shell, navigation and flashes.
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := NewWriter(out)
		w.Raw(`<!DOCTYPE html><html lang="fr"><head><meta charset="utf-8">`)
		w.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		w.Raw(`<title>`)
		w.Text(title)
		w.Raw(` · HoraCité</title></head><body>`)

		if IsAuthenticated(ctx) {
			renderNav(ctx, w)
		}

		w.Raw(`<main class="container">`)
		for _, f := range GetFlashes(ctx) {
			w.Raw(`<div class="flash flash-`)
			w.Text(f.Kind)
			w.Raw(`" role="alert">`)
			w.Text(f.Message)
			w.Raw(`</div>`)
		}
		w.Component(ctx, body)
		w.Raw(`</main></body></html>`)
		return w.Err()
	})
}

func renderNav(ctx context.Context, w *Writer) {
	active := GetActivePath(ctx)
	link := func(href, label string) {
		w.Raw(`<a href="` + href + `"`)
		if active == href {
			w.Raw(` class="active" aria-current="page"`)
		}
		w.Raw(`>`)
		w.Text(label)
		w.Raw(`</a>`)
	}

	w.Raw(`<nav class="topbar">`)
	link("/dashboard", "Dashboard")
	link("/auth/profile", "Profile")
	link("/auth/change-password", "Password")
	if IsAdmin(ctx) {
		link("/admin/security", "Security")
	}
	w.Raw(`<span class="user">`)
	w.Text(GetUserName(ctx))
	w.Raw(` <small>(`)
	w.Text(GetUserRole(ctx))
	w.Raw(`)</small></span>`)
	w.Raw(`<form method="post" action="/auth/logout" class="logout">`)
	CSRFField(ctx, w)
	w.Raw(`<button type="submit">Sign out</button></form></nav>`)
}
