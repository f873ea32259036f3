package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// InitRequest carries the upstream credential to exchange for a session.
type InitRequest struct {
	Credential string `json:"credential"`
}

// InitSession exchanges a credential for an opaque session token.
// POST /auth/init
func (h *Handler) InitSession(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	res, err := h.service.InitSession(c.Request().Context(), req.Credential, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"sessionToken": res.Token,
		"expiresIn":    int(res.ExpiresIn.Seconds()),
		"created":      res.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// ValidateSession checks the session and renews its sliding window.
// GET /auth/validate
func (h *Handler) ValidateSession(c echo.Context) error {
	sess, err := h.service.ValidateSession(c.Request().Context(), h.sessionToken(c), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid": true,
		"session": map[string]interface{}{
			"created":      sess.CreatedAt.UTC().Format(time.RFC3339),
			"lastAccessed": sess.LastAccessed.UTC().Format(time.RFC3339),
			"expiresAt":    sess.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}

// RefreshSession extends the sliding window. Functionally a validate; kept
// as its own endpoint so clients can renew without caring about the session
// payload.
// POST /auth/refresh
func (h *Handler) RefreshSession(c echo.Context) error {
	sess, err := h.service.ValidateSession(c.Request().Context(), h.sessionToken(c), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"expiresAt": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout destroys the session. Idempotent: an unknown token still returns
// success.
// POST /auth/logout
func (h *Handler) Logout(c echo.Context) error {
	if _, err := h.service.Logout(c.Request().Context(), h.sessionToken(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
