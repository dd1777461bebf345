package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horacite/horacite/internal/apperror"
	"github.com/horacite/horacite/internal/observability"
	"github.com/horacite/horacite/internal/plugins/audit"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	findActiveByEmailFn   func(ctx context.Context, email string) (*User, error)
	findByEmailFn         func(ctx context.Context, email string) (*User, error)
	findByIDFn            func(ctx context.Context, id string) (*User, error)
	createFn              func(ctx context.Context, user *User) error
	emailExistsFn         func(ctx context.Context, email string) (bool, error)
	matriculeExistsFn     func(ctx context.Context, matricule string) (bool, error)
	updatePasswordHashFn  func(ctx context.Context, id, passwordHash string, version int) error
	upgradePasswordHashFn func(ctx context.Context, id, passwordHash string, version int) error
	updateProfileFn       func(ctx context.Context, id, firstName, lastName string, version int) error
	setRotationFn         func(ctx context.Context, id string, required bool) error
	setActiveFn           func(ctx context.Context, id string, active bool) error
	updateLastLoginFn     func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindActiveByEmail(ctx context.Context, email string) (*User, error) {
	if m.findActiveByEmailFn != nil {
		return m.findActiveByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.emailExistsFn != nil {
		return m.emailExistsFn(ctx, email)
	}
	return false, nil
}

func (m *mockUserRepo) MatriculeExists(ctx context.Context, matricule string) (bool, error) {
	if m.matriculeExistsFn != nil {
		return m.matriculeExistsFn(ctx, matricule)
	}
	return false, nil
}

func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string, version int) error {
	if m.updatePasswordHashFn != nil {
		return m.updatePasswordHashFn(ctx, id, passwordHash, version)
	}
	return nil
}

func (m *mockUserRepo) UpgradePasswordHash(ctx context.Context, id, passwordHash string, version int) error {
	if m.upgradePasswordHashFn != nil {
		return m.upgradePasswordHashFn(ctx, id, passwordHash, version)
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id, firstName, lastName string, version int) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, firstName, lastName, version)
	}
	return nil
}

func (m *mockUserRepo) SetRotationRequired(ctx context.Context, id string, required bool) error {
	if m.setRotationFn != nil {
		return m.setRotationFn(ctx, id, required)
	}
	return nil
}

func (m *mockUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

// --- Mock Recorder ---

// mockRecorder collects audit entries synchronously.
type mockRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *mockRecorder) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

// --- Fake Hasher ---

// fakeHasher is a fast, deterministic PasswordHasher that counts verifies.
type fakeHasher struct {
	mu       sync.Mutex
	verifies []string // digests passed to Verify
	upgrade  bool
	hashErr  error
}

func (f *fakeHasher) Hash(password string) (string, error) {
	if f.hashErr != nil {
		return "", f.hashErr
	}
	return "fake$" + password, nil
}

func (f *fakeHasher) Verify(password, digest string) bool {
	f.mu.Lock()
	f.verifies = append(f.verifies, digest)
	f.mu.Unlock()
	return digest == "fake$"+password
}

func (f *fakeHasher) NeedsUpgrade(string) bool { return f.upgrade }

// --- Test Helpers ---

var testPolicy = PasswordPolicy{MinLength: 8, MaxLength: 72, MinClasses: 3}

func newTestAuthService(t *testing.T, repo *mockUserRepo, h *fakeHasher, rec *mockRecorder, m *observability.Metrics) AuthService {
	t.Helper()
	svc, err := NewAuthService(repo, h, testPolicy, rec, m)
	require.NoError(t, err)
	return svc
}

func activeUser() *User {
	return &User{
		ID:           "u-1",
		Matricule:    "M001",
		Email:        "alice@example.com",
		PasswordHash: "fake$Secret123!",
		FirstName:    "Alice",
		LastName:     "Martin",
		Role:         RoleResponsable,
		IsActive:     true,
		Version:      3,
	}
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) *apperror.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "expected *apperror.AppError, got %T: %v", err, err)
	assert.Equal(t, expectedCode, appErr.Code, "message: %s", appErr.Message)
	return appErr
}

// --- Authenticate Tests ---

func TestAuthenticate_Verified(t *testing.T) {
	var lastLogin string
	repo := &mockUserRepo{
		findActiveByEmailFn: func(_ context.Context, email string) (*User, error) {
			assert.Equal(t, "alice@example.com", email, "email must be normalized")
			return activeUser(), nil
		},
		updateLastLoginFn: func(_ context.Context, id string) error {
			lastLogin = id
			return nil
		},
	}
	rec := &mockRecorder{}
	m := observability.NewMetrics()
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, m)

	result, err := svc.Authenticate(context.Background(), LoginInput{
		Email:    "  Alice@Example.COM ",
		Password: "Secret123!",
		Origin:   Origin{IP: "10.0.0.1", UserAgent: "test"},
	})
	require.NoError(t, err)
	require.True(t, result.Verified())
	assert.Equal(t, "u-1", result.Principal.ID)
	assert.Equal(t, "Alice Martin", result.Principal.DisplayName)
	assert.Equal(t, RoleResponsable, result.Principal.Role)
	assert.Equal(t, "u-1", lastLogin)

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLoginSuccess, entries[0].Action)
	assert.Equal(t, "u-1", entries[0].UserID)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttempts.WithLabelValues(observability.LoginVerified)))
}

func TestAuthenticate_UnknownEmailCostsAVerify(t *testing.T) {
	h := &fakeHasher{}
	rec := &mockRecorder{}
	m := observability.NewMetrics()
	svc := newTestAuthService(t, &mockUserRepo{}, h, rec, m)

	result, err := svc.Authenticate(context.Background(), LoginInput{Email: "ghost@example.com", Password: "whatever"})
	require.NoError(t, err)
	assert.False(t, result.Verified())
	assert.Equal(t, ReasonInvalidCredentials, result.Reason)
	assert.Nil(t, result.Principal)

	require.Len(t, h.verifies, 1, "unknown identifiers must still run a verify")
	assert.Equal(t, "fake$"+dummyPassword, h.verifies[0])

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLoginFailed, entries[0].Action)
	assert.Empty(t, entries[0].UserID, "actor is unknown")
	assert.Equal(t, "unknown_identifier", entries[0].Details["reason"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttempts.WithLabelValues(observability.LoginUnknownIdentifier)))
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	repo := &mockUserRepo{
		findActiveByEmailFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updateLastLoginFn: func(context.Context, string) error {
			t.Error("last login must not change on a failed attempt")
			return nil
		},
	}
	rec := &mockRecorder{}
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

	result, err := svc.Authenticate(context.Background(), LoginInput{Email: "alice@example.com", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, result.Verified())
	assert.Equal(t, ReasonInvalidCredentials, result.Reason)

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLoginFailed, entries[0].Action)
	assert.Equal(t, "u-1", entries[0].UserID)
	assert.Equal(t, "wrong_password", entries[0].Details["reason"])
}

func TestAuthenticate_RejectionsAreIndistinguishable(t *testing.T) {
	repo := &mockUserRepo{
		findActiveByEmailFn: func(_ context.Context, email string) (*User, error) {
			if email == "alice@example.com" {
				return activeUser(), nil
			}
			return nil, apperror.NewNotFound("user not found")
		},
	}
	svc := newTestAuthService(t, repo, &fakeHasher{}, &mockRecorder{}, nil)

	unknown, err := svc.Authenticate(context.Background(), LoginInput{Email: "ghost@example.com", Password: "x"})
	require.NoError(t, err)
	wrong, err := svc.Authenticate(context.Background(), LoginInput{Email: "alice@example.com", Password: "x"})
	require.NoError(t, err)

	assert.Equal(t, unknown, wrong)
}

func TestAuthenticate_StoreFailureIsInternal(t *testing.T) {
	repo := &mockUserRepo{
		findActiveByEmailFn: func(context.Context, string) (*User, error) {
			return nil, errors.New("connection refused")
		},
	}
	rec := &mockRecorder{}
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

	result, err := svc.Authenticate(context.Background(), LoginInput{Email: "alice@example.com", Password: "x"})
	assert.Nil(t, result)
	appErr := assertAppError(t, err, http.StatusInternalServerError)
	assert.NotContains(t, appErr.Message, "connection refused")
	assert.Empty(t, rec.all())
}

func TestAuthenticate_BookkeepingFailureStillVerifies(t *testing.T) {
	repo := &mockUserRepo{
		findActiveByEmailFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updateLastLoginFn:   func(context.Context, string) error { return errors.New("deadlock") },
		upgradePasswordHashFn: func(context.Context, string, string, int) error {
			return errors.New("deadlock")
		},
	}
	svc := newTestAuthService(t, repo, &fakeHasher{upgrade: true}, &mockRecorder{}, nil)

	result, err := svc.Authenticate(context.Background(), LoginInput{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	assert.True(t, result.Verified())
}

func TestAuthenticate_UpgradesWeakDigest(t *testing.T) {
	var stored string
	var version int
	repo := &mockUserRepo{
		findActiveByEmailFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		upgradePasswordHashFn: func(_ context.Context, _ string, digest string, v int) error {
			stored, version = digest, v
			return nil
		},
	}
	svc := newTestAuthService(t, repo, &fakeHasher{upgrade: true}, &mockRecorder{}, nil)

	_, err := svc.Authenticate(context.Background(), LoginInput{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)
	assert.Equal(t, "fake$Secret123!", stored)
	assert.Equal(t, 3, version)
}

func TestNewAuthService_DummyDigestFailure(t *testing.T) {
	_, err := NewAuthService(&mockUserRepo{}, &fakeHasher{hashErr: errors.New("boom")}, testPolicy, &mockRecorder{}, nil)
	require.Error(t, err)
}

// --- ChangePassword Tests ---

func TestChangePassword_Success(t *testing.T) {
	var gotDigest string
	var gotVersion int
	user := activeUser()
	user.MustChangePassword = true
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return user, nil },
		updatePasswordHashFn: func(_ context.Context, id, digest string, version int) error {
			assert.Equal(t, "u-1", id)
			gotDigest, gotVersion = digest, version
			return nil
		},
	}
	rec := &mockRecorder{}
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

	err := svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "u-1",
		CurrentPassword: "Secret123!",
		NewPassword:     "Another456?",
		ConfirmPassword: "Another456?",
	})
	require.NoError(t, err)
	assert.Equal(t, "fake$Another456?", gotDigest)
	assert.Equal(t, 3, gotVersion)

	entries := rec.all()
	require.Len(t, entries, 1, "verifying the current password is not a login event")
	assert.Equal(t, audit.ActionPasswordChange, entries[0].Action)
	assert.Equal(t, true, entries[0].Details["forced"])
}

func TestChangePassword_CollectsEveryViolation(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updatePasswordHashFn: func(context.Context, string, string, int) error {
			t.Error("must not store an invalid password")
			return nil
		},
	}
	rec := &mockRecorder{}
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

	err := svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "u-1",
		CurrentPassword: "wrong",
		NewPassword:     "short",
		ConfirmPassword: "different",
	})
	appErr := assertAppError(t, err, http.StatusUnprocessableEntity)

	joined := strings.Join(appErr.Messages, "\n")
	assert.Contains(t, joined, "Current password is incorrect.")
	assert.Contains(t, joined, "New passwords do not match.")
	assert.Contains(t, joined, "at least 8 characters")
	assert.Contains(t, joined, "at least 3 of")
	assert.Empty(t, rec.all())
}

func TestChangePassword_SingleViolation(t *testing.T) {
	tests := []struct {
		name    string
		current string
		next    string
		confirm string
		want    string
	}{
		{"current incorrect", "Wrong123!", "Another456?", "Another456?", "Current password is incorrect."},
		{"confirmation mismatch", "Secret123!", "Another456?", "Another457?", "New passwords do not match."},
		{"same as current", "Secret123!", "Secret123!", "Secret123!", "New password must be different from the current one."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				findByIDFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
				updatePasswordHashFn: func(context.Context, string, string, int) error {
					t.Error("must not store an invalid password")
					return nil
				},
			}
			rec := &mockRecorder{}
			svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

			err := svc.ChangePassword(context.Background(), ChangePasswordInput{
				UserID:          "u-1",
				CurrentPassword: tt.current,
				NewPassword:     tt.next,
				ConfirmPassword: tt.confirm,
			})
			appErr := assertAppError(t, err, http.StatusUnprocessableEntity)
			assert.Equal(t, []string{tt.want}, appErr.Messages)
			assert.Empty(t, rec.all())
		})
	}
}

func TestChangePassword_ConcurrentUpdateConflicts(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updatePasswordHashFn: func(context.Context, string, string, int) error {
			return apperror.NewConflict("the account was modified by another request")
		},
	}
	rec := &mockRecorder{}
	svc := newTestAuthService(t, repo, &fakeHasher{}, rec, nil)

	err := svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          "u-1",
		CurrentPassword: "Secret123!",
		NewPassword:     "Another456?",
		ConfirmPassword: "Another456?",
	})
	assertAppError(t, err, http.StatusConflict)
	assert.Empty(t, rec.all())
}

func TestChangePassword_UnknownUser(t *testing.T) {
	svc := newTestAuthService(t, &mockUserRepo{}, &fakeHasher{}, &mockRecorder{}, nil)
	err := svc.ChangePassword(context.Background(), ChangePasswordInput{UserID: "missing"})
	assertAppError(t, err, http.StatusNotFound)
}

// --- UpdateProfile Tests ---

func TestUpdateProfile_Success(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updateProfileFn: func(_ context.Context, _ string, first, last string, version int) error {
			assert.Equal(t, "Alicia", first)
			assert.Equal(t, "Dupont", last)
			assert.Equal(t, 3, version)
			return nil
		},
	}
	svc := newTestAuthService(t, repo, &fakeHasher{}, &mockRecorder{}, nil)

	user, err := svc.UpdateProfile(context.Background(), ProfileInput{UserID: "u-1", FirstName: " Alicia ", LastName: "Dupont"})
	require.NoError(t, err)
	assert.Equal(t, "Alicia Dupont", user.DisplayName())
	assert.Equal(t, 4, user.Version)
}

func TestUpdateProfile_Validation(t *testing.T) {
	svc := newTestAuthService(t, &mockUserRepo{}, &fakeHasher{}, &mockRecorder{}, nil)

	_, err := svc.UpdateProfile(context.Background(), ProfileInput{UserID: "u-1", FirstName: "A", LastName: strings.Repeat("x", 101)})
	appErr := assertAppError(t, err, http.StatusUnprocessableEntity)
	assert.Len(t, appErr.Messages, 2)
}

func TestUpdateProfile_RejectsMarkup(t *testing.T) {
	svc := newTestAuthService(t, &mockUserRepo{}, &fakeHasher{}, &mockRecorder{}, nil)

	_, err := svc.UpdateProfile(context.Background(), ProfileInput{UserID: "u-1", FirstName: "<b>Alice</b>", LastName: "Martin & Fils"})
	appErr := assertAppError(t, err, http.StatusUnprocessableEntity)
	assert.Equal(t, []string{"First name must not contain HTML."}, appErr.Messages)
}

func TestUpdateProfile_Conflict(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) { return activeUser(), nil },
		updateProfileFn: func(context.Context, string, string, string, int) error {
			return apperror.NewConflict("modified")
		},
	}
	svc := newTestAuthService(t, repo, &fakeHasher{}, &mockRecorder{}, nil)

	_, err := svc.UpdateProfile(context.Background(), ProfileInput{UserID: "u-1", FirstName: "Alice", LastName: "Martin"})
	assertAppError(t, err, http.StatusConflict)
}

// --- Logout Tests ---

func TestLogout_RecordsEvent(t *testing.T) {
	rec := &mockRecorder{}
	svc := newTestAuthService(t, &mockUserRepo{}, &fakeHasher{}, rec, nil)

	svc.Logout(context.Background(), &Principal{ID: "u-1"}, Origin{IP: "10.0.0.1"})
	svc.Logout(context.Background(), nil, Origin{})

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLogout, entries[0].Action)
	assert.Equal(t, "u-1", entries[0].UserID)
}
