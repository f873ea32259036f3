package domain

import "encoding/json"

// PredictionStatus represents the provider-reported state of a job.
type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether no further status transition can occur.
func (s PredictionStatus) Terminal() bool {
	switch s {
	case PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return true
	}
	return false
}

// Prediction mirrors the upstream job record. The provider is the system of
// record; we only ever copy the most recent poll response into this shape.
type Prediction struct {
	ID          string           `json:"id"`
	Model       string           `json:"model,omitempty"`
	Version     string           `json:"version,omitempty"`
	Status      PredictionStatus `json:"status"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at,omitempty"`
	StartedAt   string           `json:"started_at,omitempty"`
	CompletedAt string           `json:"completed_at,omitempty"`
}
