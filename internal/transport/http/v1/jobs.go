package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CreateJobRequest is the submission body. Input is opaque: only the model
// reference is validated here, the rest passes through to the provider.
type CreateJobRequest struct {
	ModelRef string          `json:"modelRef"`
	Input    json.RawMessage `json:"input"`
}

// CreateJob submits a new prediction job.
// POST /jobs
func (h *Handler) CreateJob(c echo.Context) error {
	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	pred, err := h.service.CreatePrediction(c.Request().Context(), h.sessionToken(c), req.ModelRef, req.Input)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, pred)
}

// GetJob returns the provider's current job record.
// GET /jobs/:id
func (h *Handler) GetJob(c echo.Context) error {
	pred, err := h.service.GetPrediction(c.Request().Context(), h.sessionToken(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pred)
}

// CancelJob asks the provider to stop the job and returns the updated record.
// DELETE /jobs/:id
func (h *Handler) CancelJob(c echo.Context) error {
	pred, err := h.service.CancelPrediction(c.Request().Context(), h.sessionToken(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pred)
}
