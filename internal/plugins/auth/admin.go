package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/horacite/horacite/internal/apperror"
)

// AdminService provisions and manages accounts. It backs the `user`
// commands of the CLI; there is no self-registration.
type AdminService interface {
	CreateUser(ctx context.Context, input CreateUserInput) (*User, error)
	SetActive(ctx context.Context, email string, active bool) (*User, error)
	RequireRotation(ctx context.Context, email string) (*User, error)
}

type adminService struct {
	repo   UserRepository
	hasher PasswordHasher
	policy PasswordPolicy
}

// NewAdminService creates the account management service.
func NewAdminService(repo UserRepository, hasher PasswordHasher, policy PasswordPolicy) AdminService {
	return &adminService{repo: repo, hasher: hasher, policy: policy}
}

// CreateUser validates the input, checks uniqueness and inserts the account.
func (s *adminService) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	email := NormalizeEmail(input.Email)
	matricule := strings.TrimSpace(input.Matricule)
	first := strings.TrimSpace(input.FirstName)
	last := strings.TrimSpace(input.LastName)

	var errs []string
	if matricule == "" {
		errs = append(errs, "Matricule is required.")
	}
	if !strings.Contains(email, "@") || len(email) > 255 {
		errs = append(errs, "A valid email address is required.")
	}
	errs = append(errs, validateName("First name", first)...)
	errs = append(errs, validateName("Last name", last)...)
	if !input.Role.Valid() {
		errs = append(errs, "Role must be one of: admin, responsable, utilisateur.")
	}
	errs = append(errs, s.policy.Validate(input.Password)...)
	if len(errs) > 0 {
		return nil, apperror.NewValidationErrors(errs)
	}

	// Check uniqueness before doing expensive hashing.
	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}
	exists, err = s.repo.MatriculeExists(ctx, matricule)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking matricule: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this matricule already exists")
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := time.Now().UTC()
	user := &User{
		ID:                 uuid.NewString(),
		Matricule:          matricule,
		Email:              email,
		PasswordHash:       digest,
		FirstName:          first,
		LastName:           last,
		Role:               input.Role,
		IsActive:           true,
		MustChangePassword: input.MustChangePassword,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if input.CreatedBy != "" {
		createdBy := input.CreatedBy
		user.CreatedBy = &createdBy
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", user.Role.String()),
	)
	return user, nil
}

// SetActive enables or disables the account with this email.
func (s *adminService) SetActive(ctx context.Context, email string, active bool) (*User, error) {
	user, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, user.ID, active); err != nil {
		return nil, wrapRepoErr("updating active flag", err)
	}
	user.IsActive = active
	slog.Info("user active flag changed",
		slog.String("user_id", user.ID),
		slog.Bool("active", active),
	)
	return user, nil
}

// RequireRotation forces the user to choose a new password at next request.
func (s *adminService) RequireRotation(ctx context.Context, email string) (*User, error) {
	user, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetRotationRequired(ctx, user.ID, true); err != nil {
		return nil, wrapRepoErr("updating rotation flag", err)
	}
	user.MustChangePassword = true
	slog.Info("password rotation required", slog.String("user_id", user.ID))
	return user, nil
}

func (s *adminService) lookup(ctx context.Context, email string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, wrapRepoErr("finding user", err)
	}
	return user, nil
}

// wrapRepoErr passes apperrors through and hides everything else.
func wrapRepoErr(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}
