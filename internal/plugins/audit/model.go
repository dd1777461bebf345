// Package audit records security-relevant events (logins, logouts, password
// changes) as an immutable trail in the audit_logs table. Entries are only
// ever inserted; the admin security page and the audit API read them back.
package audit

import "time"

// Action is the closed vocabulary of audited events. The values match the
// ENUM on audit_logs.action.
type Action string

const (
	// ActionLoginSuccess is logged when credentials were verified.
	ActionLoginSuccess Action = "LOGIN_SUCCESS"

	// ActionLoginFailed is logged for an unknown identifier or a wrong password.
	ActionLoginFailed Action = "LOGIN_FAILED"

	// ActionLogout is logged when a user ends their session.
	ActionLogout Action = "LOGOUT"

	// ActionPasswordChange is logged after a password was replaced.
	ActionPasswordChange Action = "PASSWORD_CHANGE"
)

// Actions lists every valid action in display order.
var Actions = []Action{ActionLoginSuccess, ActionLoginFailed, ActionLogout, ActionPasswordChange}

// Valid reports whether a is part of the vocabulary.
func (a Action) Valid() bool {
	switch a {
	case ActionLoginSuccess, ActionLoginFailed, ActionLogout, ActionPasswordChange:
		return true
	}
	return false
}

// ParseAction converts a query string value into an Action. The empty string
// is accepted and means "any action".
func ParseAction(s string) (Action, bool) {
	if s == "" {
		return "", true
	}
	a := Action(s)
	return a, a.Valid()
}

// Entry is a single recorded event. UserID is empty when no account could be
// attributed (an unknown email on login) and is stored as SQL NULL.
type Entry struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Action    Action         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	// UserEmail is joined from the users table for display. Not stored in
	// audit_logs.
	UserEmail string `json:"userEmail,omitempty"`
}

// EventPage is one page of the audit listing, most recent first.
type EventPage struct {
	Entries    []Entry `json:"entries"`
	Action     Action  `json:"action,omitempty"`
	Page       int     `json:"page"`
	PerPage    int     `json:"perPage"`
	Total      int     `json:"total"`
	TotalPages int     `json:"totalPages"`
}
