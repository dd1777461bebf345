package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/horacite/horacite/internal/apperror"
	"github.com/horacite/horacite/internal/observability"
	"github.com/horacite/horacite/internal/plugins/audit"
	"github.com/horacite/horacite/internal/sanitize"
)

// dummyPassword is hashed once at construction. Unknown identifiers are
// verified against it so they cost as much as a wrong password.
const dummyPassword = "horacite-timing-equalizer"

// Name length bounds for profile fields.
const (
	nameMinLength = 2
	nameMaxLength = 100
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	// Authenticate checks credentials. It returns a Verified or Rejected
	// result, or an error when the check could not be completed.
	Authenticate(ctx context.Context, input LoginInput) (*AuthResult, error)

	// ChangePassword replaces the user's password and clears the rotation
	// flag. All violations are reported together as a validation error.
	ChangePassword(ctx context.Context, input ChangePasswordInput) error

	// UpdateProfile changes the user's own first and last name.
	UpdateProfile(ctx context.Context, input ProfileInput) (*User, error)

	// Logout records the end of a session. It never fails.
	Logout(ctx context.Context, p *Principal, origin Origin)

	// GetUser returns the user with the given ID.
	GetUser(ctx context.Context, id string) (*User, error)
}

// authService implements AuthService.
type authService struct {
	repo        UserRepository
	hasher      PasswordHasher
	policy      PasswordPolicy
	recorder    audit.Recorder
	metrics     *observability.Metrics
	dummyDigest string
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(
	repo UserRepository,
	hasher PasswordHasher,
	policy PasswordPolicy,
	recorder audit.Recorder,
	metrics *observability.Metrics,
) (AuthService, error) {
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("precomputing dummy digest: %w", err)
	}
	return &authService{
		repo:        repo,
		hasher:      hasher,
		policy:      policy,
		recorder:    recorder,
		metrics:     metrics,
		dummyDigest: dummy,
	}, nil
}

// Authenticate verifies an email and password. The rejection is identical
// for unknown emails, inactive accounts and wrong passwords; the audit
// trail records which one it was.
func (s *authService) Authenticate(ctx context.Context, input LoginInput) (*AuthResult, error) {
	email := NormalizeEmail(input.Email)

	user, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			s.metrics.RecordLogin(observability.LoginError)
			return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
		}

		s.verify(input.Password, s.dummyDigest)
		s.recorder.Record(ctx, audit.Entry{
			Action:    audit.ActionLoginFailed,
			Details:   map[string]any{"email": email, "reason": "unknown_identifier"},
			IPAddress: input.Origin.IP,
			UserAgent: input.Origin.UserAgent,
		})
		s.metrics.RecordLogin(observability.LoginUnknownIdentifier)
		slog.Info("login rejected", slog.String("reason", "unknown_identifier"))
		return rejected(), nil
	}

	if !s.verify(input.Password, user.PasswordHash) {
		s.recorder.Record(ctx, audit.Entry{
			UserID:    user.ID,
			Action:    audit.ActionLoginFailed,
			Details:   map[string]any{"email": email, "reason": "wrong_password"},
			IPAddress: input.Origin.IP,
			UserAgent: input.Origin.UserAgent,
		})
		s.metrics.RecordLogin(observability.LoginWrongPassword)
		slog.Info("login rejected",
			slog.String("user_id", user.ID),
			slog.String("reason", "wrong_password"),
		)
		return rejected(), nil
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:    user.ID,
		Action:    audit.ActionLoginSuccess,
		Details:   map[string]any{"email": email},
		IPAddress: input.Origin.IP,
		UserAgent: input.Origin.UserAgent,
	})
	s.metrics.RecordLogin(observability.LoginVerified)

	// Non-critical bookkeeping: never fail a verified login over these.
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	s.maybeUpgradeHash(ctx, user, input.Password)

	slog.Info("user logged in", slog.String("user_id", user.ID))

	p := ToSession(user)
	return &AuthResult{Status: StatusVerified, Principal: &p}, nil
}

// maybeUpgradeHash rehashes the password when the stored digest uses an
// older algorithm or weaker parameters.
func (s *authService) maybeUpgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	digest, err := s.hash(password)
	if err != nil {
		slog.Warn("failed to rehash password", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := s.repo.UpgradePasswordHash(ctx, user.ID, digest, user.Version); err != nil {
		slog.Warn("failed to store upgraded password hash", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.Version++
	slog.Info("password hash upgraded", slog.String("user_id", user.ID))
}

// ChangePassword verifies the current password (without a login event),
// validates the new one and stores it under the optimistic version check.
func (s *authService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	user, err := s.repo.FindByID(ctx, input.UserID)
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return apperror.NewInternal(fmt.Errorf("loading user: %w", err))
	}

	var errs []string
	if !s.verify(input.CurrentPassword, user.PasswordHash) {
		errs = append(errs, "Current password is incorrect.")
	}
	if input.NewPassword != input.ConfirmPassword {
		errs = append(errs, "New passwords do not match.")
	}
	errs = append(errs, s.policy.Validate(input.NewPassword)...)
	if input.NewPassword == input.CurrentPassword {
		errs = append(errs, "New password must be different from the current one.")
	}
	if len(errs) > 0 {
		s.metrics.RecordPasswordChange("rejected")
		return apperror.NewValidationErrors(errs)
	}

	digest, err := s.hash(input.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	if err := s.repo.UpdatePasswordHash(ctx, user.ID, digest, user.Version); err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == http.StatusConflict {
			s.metrics.RecordPasswordChange("conflict")
			return err
		}
		return apperror.NewInternal(fmt.Errorf("storing password: %w", err))
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:    user.ID,
		Action:    audit.ActionPasswordChange,
		Details:   map[string]any{"forced": user.MustChangePassword},
		IPAddress: input.Origin.IP,
		UserAgent: input.Origin.UserAgent,
	})
	s.metrics.RecordPasswordChange("changed")

	slog.Info("password changed", slog.String("user_id", user.ID))
	return nil
}

// UpdateProfile validates and stores the user's name.
func (s *authService) UpdateProfile(ctx context.Context, input ProfileInput) (*User, error) {
	first := strings.TrimSpace(input.FirstName)
	last := strings.TrimSpace(input.LastName)

	var errs []string
	errs = append(errs, validateName("First name", first)...)
	errs = append(errs, validateName("Last name", last)...)
	if len(errs) > 0 {
		return nil, apperror.NewValidationErrors(errs)
	}

	user, err := s.repo.FindByID(ctx, input.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("loading user: %w", err))
	}

	if err := s.repo.UpdateProfile(ctx, user.ID, first, last, user.Version); err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("updating profile: %w", err))
	}

	user.FirstName, user.LastName = first, last
	user.Version++
	slog.Info("profile updated", slog.String("user_id", user.ID))
	return user, nil
}

// Logout records the event. Audit failures are handled by the recorder.
func (s *authService) Logout(ctx context.Context, p *Principal, origin Origin) {
	if p == nil {
		return
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:    p.ID,
		Action:    audit.ActionLogout,
		IPAddress: origin.IP,
		UserAgent: origin.UserAgent,
	})
	slog.Info("user logged out", slog.String("user_id", p.ID))
}

// GetUser returns a user by ID.
func (s *authService) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("loading user: %w", err))
	}
	return user, nil
}

// --- Helpers ---

// verify wraps the hasher with a latency observation.
func (s *authService) verify(password, digest string) bool {
	start := time.Now()
	ok := s.hasher.Verify(password, digest)
	s.metrics.ObserveHash("verify", time.Since(start))
	return ok
}

func (s *authService) hash(password string) (string, error) {
	start := time.Now()
	digest, err := s.hasher.Hash(password)
	s.metrics.ObserveHash("hash", time.Since(start))
	return digest, err
}

func rejected() *AuthResult {
	return &AuthResult{Status: StatusRejected, Reason: ReasonInvalidCredentials}
}

func validateName(label, name string) []string {
	n := utf8.RuneCountInString(name)
	if n < nameMinLength {
		return []string{fmt.Sprintf("%s must be at least %d characters long.", label, nameMinLength)}
	}
	if n > nameMaxLength {
		return []string{fmt.Sprintf("%s must be at most %d characters long.", label, nameMaxLength)}
	}
	if sanitize.HasMarkup(name) {
		return []string{fmt.Sprintf("%s must not contain HTML.", label)}
	}
	return nil
}

// isNotFound checks if an error is an apperror with a 404 code.
func isNotFound(err error) bool {
	appErr, ok := apperror.As(err)
	return ok && appErr.Code == http.StatusNotFound
}
