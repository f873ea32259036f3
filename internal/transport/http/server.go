// Package http provides the HTTP server for the backend.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fitroom/backend/internal/ratelimit"
	"github.com/fitroom/backend/internal/service"
	v1 "github.com/fitroom/backend/internal/transport/http/v1"
)

// NewServer creates and configures the echo server: session endpoints, job
// endpoints and the status stream, all gated by the per-class rate limiter.
func NewServer(svc *service.Service, limiter *ratelimit.Limiter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	handler := v1.NewHandler(svc, limiter)
	handler.RegisterRoutes(e)

	return e
}
