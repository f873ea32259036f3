// Package v1 provides the HTTP handlers for the backend API.
package v1

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/ratelimit"
	"github.com/fitroom/backend/internal/service"
)

// HeaderSessionToken carries the opaque session token on every
// session-bearing request.
const HeaderSessionToken = "X-Session-Token"

// statusClientClosedRequest mirrors the nginx convention for a
// caller-initiated abort mid-request.
const statusClientClosedRequest = 499

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		service: svc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The session token, not the origin, is the credential.
				return true
			},
		},
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	authGate := ratelimit.Middleware(h.limiter, ratelimit.ClassAuth)
	sessionGate := ratelimit.Middleware(h.limiter, ratelimit.ClassSession)
	upstreamGate := ratelimit.Middleware(h.limiter, ratelimit.ClassUpstream)

	// Session vault
	e.POST("/auth/init", h.InitSession, authGate)
	e.GET("/auth/validate", h.ValidateSession, sessionGate)
	e.POST("/auth/refresh", h.RefreshSession, sessionGate)
	e.POST("/auth/logout", h.Logout, authGate)

	// Prediction jobs
	e.POST("/jobs", h.CreateJob, upstreamGate)
	e.GET("/jobs/:id", h.GetJob, upstreamGate)
	e.DELETE("/jobs/:id", h.CancelJob, upstreamGate)
	e.GET("/jobs/:id/stream", h.StreamJob, upstreamGate)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (h *Handler) sessionToken(c echo.Context) string {
	return c.Request().Header.Get(HeaderSessionToken)
}

// writeError maps the error taxonomy to HTTP. Upstream failures pass their
// status through untouched; internal details and credentials never leak.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrAuth):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired session"})
	case errors.Is(err, domain.ErrUpstreamBusy):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "upstream provider is busy, try again later"})
	case errors.Is(err, domain.ErrPollingTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "job did not finish in time; it may still complete"})
	case errors.Is(err, domain.ErrCanceled):
		return c.JSON(statusClientClosedRequest, map[string]string{"error": "request canceled"})
	case errors.Is(err, domain.ErrEncryption), errors.Is(err, domain.ErrDecryption):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal crypto error"})
	}

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return c.JSON(ue.StatusCode, map[string]string{"error": ue.Message})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
