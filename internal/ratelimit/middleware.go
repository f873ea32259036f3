package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fitroom/backend/internal/domain"
)

// Middleware gates a route group with the given class, keyed by client IP.
// A breach returns 429 with a human-readable hint and a retryAfter field in
// seconds. This is the local limiter only; upstream 429s pass through the
// job handlers untouched.
func Middleware(l *Limiter, class Class) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := l.Allow(c.RealIP(), class); err != nil {
				var rle *domain.RateLimitError
				if errors.As(err, &rle) {
					retryAfter := int(math.Ceil(rle.RetryAfter.Seconds()))
					if retryAfter < 1 {
						retryAfter = 1
					}
					c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
					return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
						"error":      fmt.Sprintf("too many requests, retry in %ds", retryAfter),
						"retryAfter": retryAfter,
					})
				}
				return err
			}
			return next(c)
		}
	}
}
