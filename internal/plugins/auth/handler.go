package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/horacite/horacite/internal/apperror"
	"github.com/horacite/horacite/internal/middleware"
	"github.com/horacite/horacite/internal/session"
)

// ProfilePath is the self-service profile page.
const ProfilePath = "/auth/profile"

// errNoSession is returned when a handler that needs the session runs
// without the session middleware.
var errNoSession = errors.New("session middleware not installed")

// Handler handles HTTP requests for authentication (login, logout, password
// change, profile). Handlers are thin: they bind the request, call the
// service, and turn the outcome into a flash and a redirect or a page.
type Handler struct {
	service AuthService
	codec   *PrincipalCodec
	policy  PasswordPolicy
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService, codec *PrincipalCodec, policy PasswordPolicy) *Handler {
	return &Handler{service: service, codec: codec, policy: policy}
}

// Home sends visitors to the dashboard or the login page (GET /).
func (h *Handler) Home(c echo.Context) error {
	if GetPrincipal(c) != nil {
		return c.Redirect(http.StatusSeeOther, DashboardPath)
	}
	return c.Redirect(http.StatusSeeOther, LoginPath)
}

// LoginForm renders the login page (GET /auth/login).
func (h *Handler) LoginForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, LoginPage(""))
}

// Login processes the login form submission (POST /auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	result, err := h.service.Authenticate(ctx, LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Origin:   originOf(c),
	})
	if err != nil {
		return err
	}

	if !result.Verified() {
		addFlash(c, session.FlashError, ErrInvalidCredentialsMessage)
		return redirect(c, LoginPath)
	}

	sess := session.FromContext(c)
	if sess == nil {
		return apperror.NewInternal(errNoSession)
	}

	// A fresh id on every login defeats session fixation.
	if err := sess.Regenerate(ctx); err != nil {
		return apperror.NewInternal(fmt.Errorf("regenerating session: %w", err))
	}
	blob, err := h.codec.Encode(*result.Principal)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if err := sess.SetPrincipal(ctx, blob); err != nil {
		return apperror.NewInternal(fmt.Errorf("storing principal: %w", err))
	}

	target := DashboardPath
	returnTo, err := sess.TakeReturnTo(ctx)
	if err != nil {
		slog.Warn("failed to read return-to path", slog.Any("error", err))
	} else if returnTo != "" && IsLocalPath(returnTo) {
		target = returnTo
	}

	addFlash(c, session.FlashSuccess, fmt.Sprintf("Welcome, %s!", result.Principal.DisplayName))
	return redirect(c, target)
}

// Logout ends the session (POST /auth/logout). It always lands on the
// login page, even when the store could not be reached.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	h.service.Logout(ctx, GetPrincipal(c), originOf(c))

	if sess := session.FromContext(c); sess != nil {
		if err := sess.Destroy(ctx); err != nil {
			slog.Error("failed to destroy session", slog.Any("error", err))
		}
	}
	return redirect(c, LoginPath)
}

// ChangePasswordForm renders the password form (GET /auth/change-password).
func (h *Handler) ChangePasswordForm(c echo.Context) error {
	p := GetPrincipal(c)
	return middleware.Render(c, http.StatusOK, ChangePasswordPage(p.MustChangePassword, h.policy))
}

// ChangePassword processes the password form (POST /auth/change-password).
func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	p := GetPrincipal(c)
	err := h.service.ChangePassword(c.Request().Context(), ChangePasswordInput{
		UserID:          p.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
		Origin:          originOf(c),
	})
	if err != nil {
		if flashUserErrors(c, err) {
			return redirect(c, ChangePasswordPath)
		}
		return err
	}

	addFlash(c, session.FlashSuccess, "Your password has been changed.")
	return redirect(c, DashboardPath)
}

// ProfileForm renders the profile page (GET /auth/profile).
func (h *Handler) ProfileForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, ProfilePage(GetUser(c)))
}

// UpdateProfile processes the profile form (POST /auth/profile).
func (h *Handler) UpdateProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	p := GetPrincipal(c)
	user, err := h.service.UpdateProfile(c.Request().Context(), ProfileInput{
		UserID:    p.ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		if flashUserErrors(c, err) {
			return redirect(c, ProfilePath)
		}
		return err
	}

	// Keep the cached display name in step with the new name.
	if sess := session.FromContext(c); sess != nil {
		if blob, err := h.codec.Encode(ToSession(user)); err == nil {
			if err := sess.SetPrincipal(c.Request().Context(), blob); err != nil {
				slog.Warn("failed to refresh session principal", slog.Any("error", err))
			}
		}
	}

	addFlash(c, session.FlashSuccess, "Your profile has been updated.")
	return redirect(c, ProfilePath)
}

// Dashboard renders the landing page (GET /dashboard).
func (h *Handler) Dashboard(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, DashboardPage(GetUser(c)))
}

// Me returns the signed-in user as JSON (GET /api/v1/me).
func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"user": GetUser(c)})
}

// --- Helpers ---

// originOf captures the client address and agent for the audit trail.
func originOf(c echo.Context) Origin {
	return Origin{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// flashUserErrors turns validation and conflict errors into error flashes.
// It reports false for errors the caller must propagate.
func flashUserErrors(c echo.Context, err error) bool {
	appErr, ok := apperror.As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case http.StatusUnprocessableEntity, http.StatusConflict:
		for _, msg := range apperror.SafeMessages(appErr) {
			addFlash(c, session.FlashError, msg)
		}
		return true
	}
	return false
}
