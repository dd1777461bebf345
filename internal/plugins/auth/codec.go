package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/horacite/horacite/internal/apperror"
)

// ErrInvalidPrincipal means the session names a user that can no longer be
// signed in: the blob is unreadable, or the account is gone or disabled.
var ErrInvalidPrincipal = errors.New("invalid session principal")

// ToSession projects a user into the principal stored in the session.
func ToSession(u *User) Principal {
	return Principal{
		ID:                 u.ID,
		Matricule:          u.Matricule,
		Email:              u.Email,
		DisplayName:        u.DisplayName(),
		Role:               u.Role,
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
	}
}

// PrincipalCodec converts between principals and session blobs. Decoding
// always re-reads the user so role, status and rotation flag are current.
type PrincipalCodec struct {
	users UserRepository
}

// NewPrincipalCodec creates a codec backed by the user repository.
func NewPrincipalCodec(users UserRepository) *PrincipalCodec {
	return &PrincipalCodec{users: users}
}

// Encode serializes a principal for the session.
func (c *PrincipalCodec) Encode(p Principal) ([]byte, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("encoding principal: missing id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding principal: %w", err)
	}
	return data, nil
}

// FromSession decodes a blob and returns the live user it names. It never
// deletes or rewrites the blob; callers treat ErrInvalidPrincipal as
// anonymous. Repository failures are returned as internal errors.
func (c *PrincipalCodec) FromSession(ctx context.Context, blob []byte) (*User, error) {
	var p Principal
	if err := json.Unmarshal(blob, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidPrincipal
	}

	user, err := c.users.FindByID(ctx, p.ID)
	if err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == http.StatusNotFound {
			return nil, ErrInvalidPrincipal
		}
		return nil, apperror.NewInternal(fmt.Errorf("reloading session user: %w", err))
	}
	if !user.IsActive {
		return nil, ErrInvalidPrincipal
	}

	return user, nil
}
