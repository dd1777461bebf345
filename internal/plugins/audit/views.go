package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/a-h/templ"

	"github.com/horacite/horacite/internal/templates/layouts"
)

// SecurityEventsPage renders the admin audit listing with an action filter
// and pagination.
func SecurityEventsPage(page *EventPage) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card"><h1>Security events</h1>`)

		w.Raw(`<form method="get" action="/admin/security" class="filters">`)
		w.Raw(`<label for="action">Action</label><select id="action" name="action">`)
		w.Raw(`<option value="">All actions</option>`)
		for _, a := range Actions {
			w.Raw(`<option value="` + string(a) + `"`)
			if a == page.Action {
				w.Raw(` selected`)
			}
			w.Raw(`>`)
			w.Text(string(a))
			w.Raw(`</option>`)
		}
		w.Raw(`</select><button type="submit">Filter</button></form>`)

		if len(page.Entries) == 0 {
			w.Raw(`<p class="muted">No events recorded.</p>`)
		} else {
			w.Raw(`<table><thead><tr><th>Time</th><th>Action</th><th>User</th><th>IP</th><th>Details</th></tr></thead><tbody>`)
			for _, e := range page.Entries {
				w.Raw(`<tr><td>`)
				w.Text(e.CreatedAt.Format("02/01/2006 15:04:05"))
				w.Raw(`</td><td>`)
				w.Text(string(e.Action))
				w.Raw(`</td><td>`)
				if e.UserEmail != "" {
					w.Text(e.UserEmail)
				} else {
					w.Raw(`<span class="muted">unknown</span>`)
				}
				w.Raw(`</td><td>`)
				w.Text(e.IPAddress)
				w.Raw(`</td><td><code>`)
				w.Text(detailsText(e.Details))
				w.Raw(`</code></td></tr>`)
			}
			w.Raw(`</tbody></table>`)
		}

		renderPager(w, page)
		w.Raw(`</section>`)
		return w.Err()
	})
	return layouts.Base("Security events", body)
}

func renderPager(w *layouts.Writer, page *EventPage) {
	if page.TotalPages <= 1 {
		return
	}
	link := func(n int, label string) {
		q := url.Values{"page": {fmt.Sprint(n)}}
		if page.Action != "" {
			q.Set("action", string(page.Action))
		}
		w.Raw(`<a href="/admin/security?`)
		w.Text(q.Encode())
		w.Raw(`">`)
		w.Text(label)
		w.Raw(`</a>`)
	}

	w.Raw(`<nav class="pager">`)
	if page.Page > 1 {
		link(page.Page-1, "Previous")
	}
	w.Text(fmt.Sprintf(" Page %d of %d ", page.Page, page.TotalPages))
	if page.Page < page.TotalPages {
		link(page.Page+1, "Next")
	}
	w.Raw(`</nav>`)
}

func detailsText(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}
