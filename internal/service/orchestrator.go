package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fitroom/backend/internal/backoff"
	"github.com/fitroom/backend/internal/domain"
)

// ProgressFunc receives each status observed by the poll loop, including
// the terminal one.
type ProgressFunc func(*domain.Prediction)

// CreatePrediction resolves the session, checks the submission policy and
// creates the job upstream, retrying transient failures. The returned record
// may already be terminal for short jobs.
func (s *Service) CreatePrediction(ctx context.Context, token, modelRef string, input json.RawMessage) (*domain.Prediction, error) {
	apiKey, err := s.vault.APIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, apiKey, modelRef, input)
}

func (s *Service) create(ctx context.Context, apiKey, modelRef string, input json.RawMessage) (*domain.Prediction, error) {
	if modelRef == "" {
		return nil, fmt.Errorf("%w: modelRef is required", domain.ErrValidation)
	}

	decision, err := s.policyEngine.Evaluate(ctx, map[string]interface{}{"model": modelRef})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate submission policy: %w", err)
	}
	if decision != "allow" {
		return nil, fmt.Errorf("%w: model reference %q rejected by policy", domain.ErrValidation, modelRef)
	}

	var pred *domain.Prediction
	_, err = backoff.Do(ctx, s.retryPolicy(), func() error {
		p, callErr := s.upstream.Create(ctx, apiKey, modelRef, input)
		if callErr != nil {
			return callErr
		}
		pred = p
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	s.log.Info().Str("prediction", pred.ID).Str("model", modelRef).
		Str("status", string(pred.Status)).Msg("prediction created")
	return pred, nil
}

// GetPrediction fetches the current upstream record once, without retry;
// callers wanting resilience use Wait.
func (s *Service) GetPrediction(ctx context.Context, token, predictionID string) (*domain.Prediction, error) {
	apiKey, err := s.vault.APIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.upstream.Get(ctx, apiKey, predictionID)
}

// CancelPrediction asks the provider to stop the job.
func (s *Service) CancelPrediction(ctx context.Context, token, predictionID string) (*domain.Prediction, error) {
	apiKey, err := s.vault.APIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.upstream.Cancel(ctx, apiKey, predictionID)
}

// Submit creates the job and drives it to a terminal state. A terminal
// create response returns immediately without entering the poll loop.
func (s *Service) Submit(ctx context.Context, token, modelRef string, input json.RawMessage, onUpdate ProgressFunc) (*domain.Prediction, error) {
	apiKey, err := s.vault.APIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	pred, err := s.create(ctx, apiKey, modelRef, input)
	if err != nil {
		return nil, err
	}
	if pred.Status.Terminal() {
		return pred, nil
	}
	return s.poll(ctx, apiKey, pred, onUpdate)
}

// Wait drives an already-created job to a terminal state.
func (s *Service) Wait(ctx context.Context, token, predictionID string, onUpdate ProgressFunc) (*domain.Prediction, error) {
	apiKey, err := s.vault.APIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, apiKey, &domain.Prediction{ID: predictionID}, onUpdate)
}

// poll is the core loop: one outstanding get-call at a time, up to
// PollMaxAttempts with PollInterval between them. Each get-call has its own
// small retry budget for 429/5xx; everything else fails immediately.
// Cancellation is honored before every network call and during every sleep.
func (s *Service) poll(ctx context.Context, apiKey string, pred *domain.Prediction, onUpdate ProgressFunc) (*domain.Prediction, error) {
	log := s.log.With().
		Str("submission", "sub_"+uuid.New().String()[:8]).
		Str("prediction", pred.ID).
		Logger()

	for attempt := 1; attempt <= s.config.PollMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}

		var latest *domain.Prediction
		retried, err := backoff.Do(ctx, s.retryPolicy(), func() error {
			p, callErr := s.upstream.Get(ctx, apiKey, pred.ID)
			if callErr != nil {
				return callErr
			}
			latest = p
			return nil
		})
		if err != nil {
			return nil, s.classify(ctx, err)
		}

		// Status is only ever taken from the most recent successful poll;
		// polling is strictly sequential, so stale reads cannot occur.
		pred = latest
		if onUpdate != nil {
			onUpdate(pred)
		}
		if pred.Status.Terminal() {
			log.Info().Str("status", string(pred.Status)).Int("polls", attempt).
				Msg("prediction reached terminal state")
			return pred, nil
		}

		// A retried get-call already delayed; skip the interval for this
		// iteration.
		if !retried {
			if err := backoff.Sleep(ctx, s.config.PollInterval); err != nil {
				return nil, canceled(err)
			}
		}
	}

	log.Warn().Int("attempts", s.config.PollMaxAttempts).Msg("poll budget exhausted")
	return nil, fmt.Errorf("%w after %d attempts; the job may still complete upstream",
		domain.ErrPollingTimeout, s.config.PollMaxAttempts)
}

// Update is one element of a Watch sequence. Exactly one of the fields is
// set; an Err element is always the last one.
type Update struct {
	Prediction *domain.Prediction
	Err        error
}

// Watch exposes Wait as a lazy, finite sequence of status updates. The
// channel is closed after a terminal status, a polling timeout or a
// cancellation; it cannot be restarted.
func (s *Service) Watch(ctx context.Context, token, predictionID string) <-chan Update {
	ch := make(chan Update)
	go func() {
		defer close(ch)
		_, err := s.Wait(ctx, token, predictionID, func(p *domain.Prediction) {
			select {
			case ch <- Update{Prediction: p}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case ch <- Update{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

func (s *Service) retryPolicy() backoff.Policy {
	return backoff.Policy{
		MaxRetries: s.config.RetryMax,
		BaseDelay:  s.config.RetryBaseDelay,
	}
}

// classify maps a failed upstream call to the error taxonomy: caller
// cancellation wins, an exhausted 429 budget becomes "upstream busy", and
// everything else surfaces as-is.
func (s *Service) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return canceled(ctx.Err())
	}
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && ue.StatusCode == 429 {
		return fmt.Errorf("%w: retry budget exhausted: %v", domain.ErrUpstreamBusy, err)
	}
	return err
}

func canceled(cause error) error {
	return fmt.Errorf("%w: %v", domain.ErrCanceled, cause)
}
