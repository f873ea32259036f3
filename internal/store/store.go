// Package store defines the session storage interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/fitroom/backend/internal/domain"
)

// Store is the keyed session store behind the vault. Implementations hold
// only encrypted credentials; the vault serializes composite operations, so
// single calls need not be atomic with respect to each other beyond their
// own internal consistency.
//
// Get returns (nil, nil) when the token is unknown.
type Store interface {
	Get(ctx context.Context, token string) (*domain.Session, error)
	Put(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, token string) (bool, error)

	// Sweep removes every session with ExpiresAt before now and returns
	// how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	Count(ctx context.Context) (int, error)

	// Oldest returns the session with the earliest CreatedAt, or nil when
	// the store is empty. Used for capacity-based eviction.
	Oldest(ctx context.Context) (*domain.Session, error)

	Close() error
}
