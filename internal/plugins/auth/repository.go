package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/horacite/horacite/internal/apperror"
)

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	// FindActiveByEmail returns the active user with this normalized email.
	// Unknown and inactive accounts both return apperror.NotFound.
	FindActiveByEmail(ctx context.Context, email string) (*User, error)

	// FindByEmail returns the user with this email, active or not.
	FindByEmail(ctx context.Context, email string) (*User, error)

	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	EmailExists(ctx context.Context, email string) (bool, error)
	MatriculeExists(ctx context.Context, matricule string) (bool, error)

	// UpdatePasswordHash stores a new digest and clears the rotation flag,
	// provided the row is still at the given version.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, version int) error

	// UpgradePasswordHash replaces the digest for the same password after
	// a parameter upgrade. The rotation flag is left alone.
	UpgradePasswordHash(ctx context.Context, id, passwordHash string, version int) error

	UpdateProfile(ctx context.Context, id, firstName, lastName string, version int) error
	SetRotationRequired(ctx context.Context, id string, required bool) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, matricule, email, password_hash, first_name, last_name, role,
	is_active, must_change_password, version, created_by, last_login_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(
		&u.ID, &u.Matricule, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role,
		&u.IsActive, &u.MustChangePassword, &u.Version, &u.CreatedBy, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = ParseRole(role)
	return &u, nil
}

func (r *userRepository) findOne(ctx context.Context, what, query string, arg any) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by %s: %w", what, err)
	}
	return user, nil
}

// FindActiveByEmail looks up a login candidate.
func (r *userRepository) FindActiveByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "email",
		`SELECT `+userColumns+` FROM users WHERE email = ? AND is_active = TRUE`, email)
}

// FindByEmail retrieves a user by email regardless of status.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "email", `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, "id", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// Create inserts a new user row into the users table.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, matricule, email, password_hash, first_name, last_name, role,
	                             is_active, must_change_password, version, created_by, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if user.Version == 0 {
		user.Version = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Matricule,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role.String(),
		user.IsActive,
		user.MustChangePassword,
		user.Version,
		user.CreatedBy,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// EmailExists returns true if a user with the given email already exists.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// MatriculeExists returns true if the staff number is already taken.
func (r *userRepository) MatriculeExists(ctx context.Context, matricule string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE matricule = ?)`, matricule,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking matricule existence: %w", err)
	}
	return exists, nil
}

// UpdatePasswordHash stores a new digest, clears the rotation flag and bumps
// the version in one statement.
func (r *userRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, version int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, must_change_password = FALSE, version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ?`,
		passwordHash, id, version,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return r.checkVersioned(ctx, result, id)
}

// UpgradePasswordHash swaps the digest without touching the rotation flag.
func (r *userRepository) UpgradePasswordHash(ctx context.Context, id, passwordHash string, version int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ?`,
		passwordHash, id, version,
	)
	if err != nil {
		return fmt.Errorf("upgrading password hash: %w", err)
	}
	return r.checkVersioned(ctx, result, id)
}

// UpdateProfile changes the user's name under the version check.
func (r *userRepository) UpdateProfile(ctx context.Context, id, firstName, lastName string, version int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ?`,
		firstName, lastName, id, version,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return r.checkVersioned(ctx, result, id)
}

// SetRotationRequired sets or clears the forced password change flag. It is
// an administrative override and is not version-checked, but it bumps the
// version so an in-flight user edit cannot silently undo it.
func (r *userRepository) SetRotationRequired(ctx context.Context, id string, required bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET must_change_password = ?, version = version + 1, updated_at = NOW() WHERE id = ?`,
		required, id,
	)
	if err != nil {
		return fmt.Errorf("updating rotation flag: %w", err)
	}
	return requireRow(result)
}

// SetActive enables or disables an account. Disabled accounts lose their
// sessions on the next request because the principal loader rejects them.
func (r *userRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, version = version + 1, updated_at = NOW() WHERE id = ?`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("updating active flag: %w", err)
	}
	return requireRow(result)
}

// UpdateLastLogin sets the last_login_at timestamp to now. It does not bump
// the version: a login must not make a concurrent profile edit fail.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// checkVersioned turns a zero-row versioned update into NotFound or Conflict.
func (r *userRepository) checkVersioned(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking user existence: %w", err)
	}
	if !exists {
		return apperror.NewNotFound("user not found")
	}
	return apperror.NewConflict("Your account was modified by another request. Please reload and try again.")
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}
