package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"castlebook/internal/domain"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// FailoverLeaseRepository uses primary until it errors, then fallback, retrying primary once a minute.
type FailoverLeaseRepository struct {
	primary   domain.LeaseRepository
	fallback  domain.LeaseRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLeaseRepository(primary, fallback domain.LeaseRepository, logger *zerolog.Logger) *FailoverLeaseRepository {
	return &FailoverLeaseRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLeaseRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary lease repository failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverLeaseRepository) shouldRecheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recheckInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverLeaseRepository) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldRecheck() {
		ok, err := r.primary.TryAcquire(ctx, name, owner, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary lease repository recovered")
			}
			return ok, nil
		}
		r.markDown(err)
	}

	return r.fallback.TryAcquire(ctx, name, owner, ttl)
}

func (r *FailoverLeaseRepository) Release(ctx context.Context, name, owner string) error {
	// Both sides are released: the lease may have been taken from either.
	if !r.isDown.Load() {
		if err := r.primary.Release(ctx, name, owner); err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.Release(ctx, name, owner)
}
