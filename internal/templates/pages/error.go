// Package pages holds the standalone pages that belong to no plugin.
package pages

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/horacite/horacite/internal/templates/layouts"
)

// ErrorPage renders a full error page. messages lists every violation when
// a form failed several checks at once.
func ErrorPage(code int, messages []string) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card error-page"><h1>`)
		w.Text(fmt.Sprint(code))
		w.Raw(`</h1>`)
		if len(messages) == 1 {
			w.Raw(`<p>`)
			w.Text(messages[0])
			w.Raw(`</p>`)
		} else {
			w.Raw(`<ul>`)
			for _, m := range messages {
				w.Raw(`<li>`)
				w.Text(m)
				w.Raw(`</li>`)
			}
			w.Raw(`</ul>`)
		}
		w.Raw(`<p><a href="/">Back to HoraCité</a></p></section>`)
		return w.Err()
	})
	return layouts.Base("Error", body)
}
