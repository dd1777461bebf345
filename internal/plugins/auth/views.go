package auth

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/horacite/horacite/internal/templates/layouts"
)

// LoginPage renders the sign-in form. email pre-fills the field after a
// rejected attempt.
func LoginPage(email string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card auth"><h1>Sign in</h1>`)
		w.Raw(`<form method="post" action="` + LoginPath + `">`)
		layouts.CSRFField(ctx, w)
		w.Raw(`<label for="email">Email</label>`)
		w.Raw(`<input id="email" type="email" name="email" autocomplete="username" required value="`)
		w.Text(email)
		w.Raw(`">`)
		w.Raw(`<label for="password">Password</label>`)
		w.Raw(`<input id="password" type="password" name="password" autocomplete="current-password" required>`)
		w.Raw(`<button type="submit">Sign in</button></form></section>`)
		return w.Err()
	})
	return layouts.Base("Sign in", body)
}

// ChangePasswordPage renders the password form. forced shows the notice
// for a pending rotation.
func ChangePasswordPage(forced bool, policy PasswordPolicy) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card"><h1>Change password</h1>`)
		if forced {
			w.Raw(`<p class="notice">Your password must be changed before you can continue.</p>`)
		}
		w.Raw(`<form method="post" action="` + ChangePasswordPath + `">`)
		layouts.CSRFField(ctx, w)
		passwordInput(w, "current_password", "Current password", "current-password")
		passwordInput(w, "new_password", "New password", "new-password")
		passwordInput(w, "confirm_password", "Confirm new password", "new-password")
		w.Raw(`<p class="hint">`)
		w.Text(policy.Describe())
		w.Raw(`</p><button type="submit">Update password</button></form></section>`)
		return w.Err()
	})
	return layouts.Base("Change password", body)
}

// ProfilePage renders the profile form for the signed-in user.
func ProfilePage(user *User) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card"><h1>Profile</h1><dl>`)
		w.Raw(`<dt>Matricule</dt><dd>`)
		w.Text(user.Matricule)
		w.Raw(`</dd><dt>Email</dt><dd>`)
		w.Text(user.Email)
		w.Raw(`</dd><dt>Role</dt><dd>`)
		w.Text(user.Role.String())
		w.Raw(`</dd></dl>`)
		w.Raw(`<form method="post" action="/auth/profile">`)
		layouts.CSRFField(ctx, w)
		textInput(w, "first_name", "First name", user.FirstName)
		textInput(w, "last_name", "Last name", user.LastName)
		w.Raw(`<button type="submit">Save</button></form></section>`)
		return w.Err()
	})
	return layouts.Base("Profile", body)
}

// DashboardPage is the landing page after sign-in.
func DashboardPage(user *User) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := layouts.NewWriter(out)
		w.Raw(`<section class="card"><h1>Dashboard</h1><p>Signed in as `)
		w.Text(user.DisplayName())
		w.Raw(` (`)
		w.Text(user.Email)
		w.Raw(`).</p>`)
		if user.LastLoginAt != nil {
			w.Raw(`<p class="muted">Last sign-in: `)
			w.Text(user.LastLoginAt.Format("02/01/2006 15:04"))
			w.Raw(`</p>`)
		}
		w.Raw(`</section>`)
		return w.Err()
	})
	return layouts.Base("Dashboard", body)
}

func passwordInput(w *layouts.Writer, name, label, autocomplete string) {
	w.Raw(`<label for="` + name + `">`)
	w.Text(label)
	w.Raw(`</label><input id="` + name + `" type="password" name="` + name + `" autocomplete="` + autocomplete + `" required>`)
}

func textInput(w *layouts.Writer, name, label, value string) {
	w.Raw(`<label for="` + name + `">`)
	w.Text(label)
	w.Raw(`</label><input id="` + name + `" type="text" name="` + name + `" required value="`)
	w.Text(value)
	w.Raw(`">`)
}
