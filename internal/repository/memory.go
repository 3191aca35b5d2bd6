package repository

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// MemoryLeaseRepository holds leases for a single process.
type MemoryLeaseRepository struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLeaseRepository() *MemoryLeaseRepository {
	return &MemoryLeaseRepository{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (r *MemoryLeaseRepository) TryAcquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if l, ok := r.leases[name]; ok && l.owner != owner && now.Before(l.expiresAt) {
		return false, nil
	}
	r.leases[name] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryLeaseRepository) Release(_ context.Context, name, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.leases[name]; ok && l.owner == owner {
		delete(r.leases, name)
	}
	return nil
}
