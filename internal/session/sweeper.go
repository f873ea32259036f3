package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper evicts expired sessions on a fixed interval.
type Sweeper struct {
	vault    *Vault
	interval time.Duration
	log      zerolog.Logger
}

// NewSweeper creates a sweeper over the vault.
func NewSweeper(vault *Vault, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		vault:    vault,
		interval: interval,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Run blocks until ctx is done, sweeping once per interval. Each pass holds
// the vault lock only for a single traversal of expired entries.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.vault.SweepExpired(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if removed > 0 {
				s.log.Info().Int("removed", removed).Msg("expired sessions evicted")
			}
		}
	}
}
