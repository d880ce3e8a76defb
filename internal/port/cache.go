package port

import (
	"context"
	"time"

	"github.com/rl1809/requisition-fillrate/internal/core/domain"
)

type FillRateCache interface {
	// GetFillRate returns the cached records for token and whether they were found.
	GetFillRate(ctx context.Context, token string) ([]domain.FillRateRecord, bool, error)
	SetFillRate(ctx context.Context, token string, records []domain.FillRateRecord, ttl time.Duration) error
	InvalidateFillRate(ctx context.Context, token string) error
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
}

type TokenLocker interface {
	// Lock obtains an exclusive lock on token. The returned func releases it.
	Lock(ctx context.Context, token string) (func(context.Context) error, error)
}
