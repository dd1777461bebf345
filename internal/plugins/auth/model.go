// Package auth handles credential verification, session principals, password
// rotation and role-based access control for HoraCité. Users sign in with
// email and password; the signed-in user is kept as a principal in the
// Redis-backed session and re-derived from the live user row on every
// request.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"strings"
	"time"
)

// User is an account as stored in the users table. Database scanning and
// JSON marshaling use this struct directly.
type User struct {
	ID                 string     `json:"id"`
	Matricule          string     `json:"matricule"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"` // Never expose in JSON responses.
	FirstName          string     `json:"firstName"`
	LastName           string     `json:"lastName"`
	Role               Role       `json:"role"`
	IsActive           bool       `json:"isActive"`
	MustChangePassword bool       `json:"mustChangePassword"`
	Version            int        `json:"-"`
	CreatedBy          *string    `json:"createdBy,omitempty"`
	LastLoginAt        *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// DisplayName is the name shown in the header and greetings.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Principal is the identity kept in the session. It never carries the
// password hash.
type Principal struct {
	ID                 string `json:"id"`
	Matricule          string `json:"matricule"`
	Email              string `json:"email"`
	DisplayName        string `json:"displayName"`
	Role               Role   `json:"role"`
	IsActive           bool   `json:"isActive"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

// Origin identifies the client behind a request, for the audit trail.
type Origin struct {
	IP        string
	UserAgent string
}

// --- Authentication result ---

// AuthStatus is the outcome of a credential check.
type AuthStatus int

const (
	// StatusRejected means the credentials did not match an active account.
	StatusRejected AuthStatus = iota

	// StatusVerified means the credentials matched an active account.
	StatusVerified
)

// ReasonInvalidCredentials is the only rejection reason exposed to callers.
// Whether the email was unknown or the password wrong is recorded in the
// audit trail, never returned.
const ReasonInvalidCredentials = "invalid_credentials"

// ErrInvalidCredentialsMessage is shown to the user for every rejection.
const ErrInvalidCredentialsMessage = "Invalid email or password."

// AuthResult is returned by Authenticate when the check itself completed.
type AuthResult struct {
	Status    AuthStatus
	Principal *Principal
	Reason    string
}

// Verified reports whether the credentials were accepted.
func (r *AuthResult) Verified() bool {
	return r != nil && r.Status == StatusVerified
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// ChangePasswordRequest holds the data submitted by the password form.
type ChangePasswordRequest struct {
	CurrentPassword string `form:"current_password"`
	NewPassword     string `form:"new_password"`
	ConfirmPassword string `form:"confirm_password"`
}

// ProfileRequest holds the data submitted by the profile form.
type ProfileRequest struct {
	FirstName string `form:"first_name"`
	LastName  string `form:"last_name"`
}

// --- Service Input DTOs (passed from handler to service) ---

// LoginInput is one authentication attempt. It is never persisted.
type LoginInput struct {
	Email    string
	Password string
	Origin   Origin
}

// ChangePasswordInput is the input for replacing a user's password.
type ChangePasswordInput struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
	Origin          Origin
}

// ProfileInput is the input for updating a user's own name.
type ProfileInput struct {
	UserID    string
	FirstName string
	LastName  string
}

// CreateUserInput is the input for provisioning an account from the CLI.
type CreateUserInput struct {
	Matricule          string
	Email              string
	Password           string
	FirstName          string
	LastName           string
	Role               Role
	MustChangePassword bool

	// CreatedBy is the id of the provisioning user. It references
	// users(id); empty is stored as NULL, as for accounts made by the CLI.
	CreatedBy string
}

// NormalizeEmail trims and lower-cases a login identifier. Emails are
// stored and compared in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
