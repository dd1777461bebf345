package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handle is the per-request view of a session. It is created by Middleware
// and retrieved with FromContext. A Handle starts without a server-side
// session for anonymous visitors; the session and its cookie are created on
// the first write.
type Handle struct {
	store  *Store
	cookie CookieConfig
	c      echo.Context

	id  string
	rec *record // nil when the store could not be read; see TolerateOutage
}

// ID returns the current session id, or "" when no session exists yet.
func (h *Handle) ID() string {
	return h.id
}

// Exists reports whether a server-side session backs this request.
func (h *Handle) Exists() bool {
	return h.id != "" && h.rec != nil
}

// Principal returns the stored principal blob, or nil when signed out.
func (h *Handle) Principal() []byte {
	if h.rec == nil || len(h.rec.Principal) == 0 || string(h.rec.Principal) == "null" {
		return nil
	}
	return h.rec.Principal
}

// ensure creates the server-side session and issues its cookie if needed.
func (h *Handle) ensure(ctx context.Context) error {
	if h.Exists() {
		return nil
	}
	id, err := newID()
	if err != nil {
		return err
	}
	rec := &record{CreatedAt: time.Now().UTC()}
	if err := h.store.save(ctx, id, rec); err != nil {
		return err
	}
	h.id, h.rec = id, rec
	h.writeCookie()
	return nil
}

// SetPrincipal stores an encoded principal in the session.
func (h *Handle) SetPrincipal(ctx context.Context, blob []byte) error {
	if err := h.ensure(ctx); err != nil {
		return err
	}
	h.rec.Principal = json.RawMessage(blob)
	return h.store.save(ctx, h.id, h.rec)
}

// AddFlash queues a message for the next rendered page.
func (h *Handle) AddFlash(ctx context.Context, kind, message string) error {
	if err := h.ensure(ctx); err != nil {
		return err
	}
	return h.store.pushFlash(ctx, h.id, Flash{Kind: kind, Message: message})
}

// TakeFlashes returns and clears the queued flashes.
func (h *Handle) TakeFlashes(ctx context.Context) ([]Flash, error) {
	if h.id == "" {
		return nil, nil
	}
	return h.store.takeFlashes(ctx, h.id)
}

// SetReturnTo remembers where to send the user after login.
func (h *Handle) SetReturnTo(ctx context.Context, path string) error {
	if err := h.ensure(ctx); err != nil {
		return err
	}
	return h.store.setReturnTo(ctx, h.id, path)
}

// TakeReturnTo returns and clears the remembered path ("" if none).
func (h *Handle) TakeReturnTo(ctx context.Context) (string, error) {
	if h.id == "" {
		return "", nil
	}
	return h.store.takeReturnTo(ctx, h.id)
}

// Regenerate issues a new session id carrying over the session's data and
// invalidates the old id. Called on every successful login.
func (h *Handle) Regenerate(ctx context.Context) error {
	if !h.Exists() {
		return h.ensure(ctx)
	}
	newSessionID, err := h.store.rotate(ctx, h.id, h.rec)
	if err != nil {
		return err
	}
	h.id = newSessionID
	h.writeCookie()
	return nil
}

// Destroy deletes the server-side session and expires the cookie. The
// cookie is cleared even when the store call fails; the error is returned
// for logging.
func (h *Handle) Destroy(ctx context.Context) error {
	var err error
	if h.id != "" {
		err = h.store.destroy(ctx, h.id)
	}
	h.id, h.rec = "", nil
	h.clearCookie()
	return err
}

// --- Cookie helpers ---

// writeCookie sets the session cookie. The cookie has no Max-Age: it lives
// for the browser session while the idle timeout is enforced server-side.
func (h *Handle) writeCookie() {
	req := h.c.Request()
	h.c.SetCookie(&http.Cookie{
		Name:     h.cookie.Name,
		Value:    h.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure || req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie removes the session cookie by setting MaxAge to -1.
func (h *Handle) clearCookie() {
	h.c.SetCookie(&http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
