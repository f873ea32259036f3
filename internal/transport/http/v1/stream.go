package v1

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/fitroom/backend/internal/domain"
)

// StreamJob upgrades to WebSocket and pushes each observed job status until
// a terminal state, a polling timeout or the client going away. The server
// side does the polling; the browser never hammers the provider itself.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// arrive as a query parameter.
// GET /jobs/:id/stream
func (h *Handler) StreamJob(c echo.Context) error {
	token := h.sessionToken(c)
	if token == "" {
		token = c.QueryParam("token")
	}
	predictionID := c.Param("id")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// The read pump exists only to notice the peer closing; any inbound
	// frame or error tears down the watch.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for update := range h.service.Watch(ctx, token, predictionID) {
		if update.Err != nil {
			ws.WriteJSON(map[string]string{"error": streamErrorMessage(update.Err)})
			return nil
		}
		if err := ws.WriteJSON(update.Prediction); err != nil {
			cancel()
			return nil
		}
	}
	return nil
}

// streamErrorMessage sanitizes watch failures for the wire.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "invalid or expired session"
	case errors.Is(err, domain.ErrPollingTimeout):
		return "job did not finish in time; it may still complete"
	case errors.Is(err, domain.ErrUpstreamBusy):
		return "upstream provider is busy, try again later"
	case errors.Is(err, domain.ErrCanceled):
		return "watch canceled"
	}
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return "internal error"
}
