// Package session implements the credential vault: opaque tokens mapped to
// encrypted upstream API keys with sliding expiration.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitroom/backend/internal/cryptox"
	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/store"
)

const (
	// Upstream API keys have a fixed prefix and a minimum length. Anything
	// else is rejected before it ever reaches the crypto layer.
	credentialPrefix = "r8_"
	credentialMinLen = 12

	tokenBytes = 32
)

// Vault owns all session records. A single coarse mutex serializes composite
// operations (validate-then-extend, sweep-then-evict) across request handlers.
type Vault struct {
	mu     sync.Mutex
	store  store.Store
	crypto *cryptox.Crypto

	ttl         time.Duration
	maxSessions int
	log         zerolog.Logger
}

// NewVault creates a vault over the given store. ttl is the sliding window
// applied at creation and pushed forward on every successful validation.
func NewVault(st store.Store, c *cryptox.Crypto, ttl time.Duration, maxSessions int, log zerolog.Logger) *Vault {
	return &Vault{
		store:       st,
		crypto:      c,
		ttl:         ttl,
		maxSessions: maxSessions,
		log:         log.With().Str("component", "vault").Logger(),
	}
}

// CreateResult is returned from Create. The plaintext credential is gone by
// the time the caller sees this.
type CreateResult struct {
	Token     string
	ExpiresIn time.Duration
	CreatedAt time.Time
}

// Create validates the credential shape, encrypts it and stores a new
// session. When the store is at capacity it sweeps expired entries first and
// then, if still full, evicts the single oldest-created session.
func (v *Vault) Create(ctx context.Context, credential, clientIP, userAgent string) (*CreateResult, error) {
	if !strings.HasPrefix(credential, credentialPrefix) || len(credential) < credentialMinLen {
		return nil, fmt.Errorf("%w: credential must start with %q and be at least %d characters",
			domain.ErrValidation, credentialPrefix, credentialMinLen)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureCapacity(ctx); err != nil {
		return nil, err
	}

	token, err := cryptox.GenerateToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	enc, err := v.crypto.Encrypt(credential)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &domain.Session{
		Token:        token,
		Credential:   enc,
		KeyHash:      cryptox.Hash(credential),
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(v.ttl),
		ClientIP:     clientIP,
		UserAgent:    userAgent,
	}
	if err := v.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	v.log.Info().Str("client_ip", clientIP).Msg("session created")
	return &CreateResult{Token: token, ExpiresIn: v.ttl, CreatedAt: now}, nil
}

// ensureCapacity must be called with the vault lock held.
func (v *Vault) ensureCapacity(ctx context.Context) error {
	count, err := v.store.Count(ctx)
	if err != nil {
		return err
	}
	if count < v.maxSessions {
		return nil
	}

	removed, err := v.store.Sweep(ctx, time.Now())
	if err != nil {
		return err
	}
	if removed > 0 {
		v.log.Debug().Int("removed", removed).Msg("swept expired sessions at capacity")
	}

	count, err = v.store.Count(ctx)
	if err != nil {
		return err
	}
	if count < v.maxSessions {
		return nil
	}

	oldest, err := v.store.Oldest(ctx)
	if err != nil {
		return err
	}
	if oldest != nil {
		if _, err := v.store.Delete(ctx, oldest.Token); err != nil {
			return err
		}
		v.log.Warn().Msg("session store full, evicted oldest session")
	}
	return nil
}

// Validate checks the token and, on success, extends the sliding window and
// refreshes access metadata. Every successful check is itself a renewal.
// Expired entries are deleted on the spot.
func (v *Vault) Validate(ctx context.Context, token, clientIP, userAgent string) (*domain.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.validateLocked(ctx, token, clientIP, userAgent)
}

func (v *Vault) validateLocked(ctx context.Context, token, clientIP, userAgent string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrAuth
	}

	sess, err := v.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrAuth
	}

	now := time.Now()
	if sess.Expired(now) {
		if _, err := v.store.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, domain.ErrAuth
	}

	sess.LastAccessed = now
	sess.ExpiresAt = now.Add(v.ttl)
	if clientIP != "" {
		sess.ClientIP = clientIP
	}
	if userAgent != "" {
		sess.UserAgent = userAgent
	}
	if err := v.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// APIKey re-validates the session and returns the decrypted credential. An
// invalid session fails with domain.ErrAuth; a decryption fault (tampering,
// key rotation) fails with domain.ErrDecryption.
func (v *Vault) APIKey(ctx context.Context, token string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	sess, err := v.validateLocked(ctx, token, "", "")
	if err != nil {
		return "", err
	}

	credential, err := v.crypto.Decrypt(sess.Credential)
	if err != nil {
		return "", err
	}
	if !cryptox.SecureCompare(cryptox.Hash(credential), sess.KeyHash) {
		return "", fmt.Errorf("%w: credential verification hash mismatch", domain.ErrDecryption)
	}
	return credential, nil
}

// Delete removes a session. Idempotent; reports whether anything was removed.
func (v *Vault) Delete(ctx context.Context, token string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Delete(ctx, token)
}

// SweepExpired evicts every expired session in one pass.
func (v *Vault) SweepExpired(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Sweep(ctx, time.Now())
}
