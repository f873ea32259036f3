// Package service wires the vault, the upstream client and the submission
// policy into the prediction orchestrator.
package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fitroom/backend/internal/config"
	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/policy"
	"github.com/fitroom/backend/internal/session"
	"github.com/fitroom/backend/internal/upstream"
)

type Service struct {
	vault        *session.Vault
	upstream     *upstream.Client
	policyEngine *policy.Engine
	config       *config.Config
	log          zerolog.Logger
}

func New(vault *session.Vault, up *upstream.Client, policyEngine *policy.Engine, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		vault:        vault,
		upstream:     up,
		policyEngine: policyEngine,
		config:       cfg,
		log:          log.With().Str("component", "service").Logger(),
	}
}

// InitSession exchanges an upstream credential for an opaque session token.
func (s *Service) InitSession(ctx context.Context, credential, clientIP, userAgent string) (*session.CreateResult, error) {
	return s.vault.Create(ctx, credential, clientIP, userAgent)
}

// ValidateSession checks and renews a session; every successful validation
// extends the sliding window.
func (s *Service) ValidateSession(ctx context.Context, token, clientIP, userAgent string) (*domain.Session, error) {
	return s.vault.Validate(ctx, token, clientIP, userAgent)
}

// Logout removes the session. Idempotent.
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	return s.vault.Delete(ctx, token)
}
