package allocation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository for tests and early development.
// The mutex spans select-and-mark in ClaimNext, matching the atomicity of
// the SQL SKIP LOCKED claim.
type MemoryRepo struct {
	mu          sync.Mutex
	allocations map[string]Allocation
	Clock       func() time.Time
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{allocations: map[string]Allocation{}} }

func (r *MemoryRepo) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r *MemoryRepo) Put(a Allocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocations[a.ID] = a
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Allocation, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok {
		return Allocation{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ClaimNext(ctx context.Context, campaignID string) (Allocation, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []Allocation
	for _, a := range r.allocations {
		if a.CampaignID == campaignID && a.Status == StatusPending {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return Allocation{}, ErrNoWorkAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() > candidates[j].Priority.Rank()
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	best := candidates[0]
	best.Status = StatusInProgress
	best.UpdatedAt = r.now()
	r.allocations[best.ID] = best
	return best, nil
}

func (r *MemoryRepo) Release(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok || a.Status != StatusInProgress {
		return ErrNotFound
	}
	a.Status = StatusPending
	a.UpdatedAt = r.now()
	r.allocations[id] = a
	return nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok || a.Status != StatusInProgress {
		return ErrNotFound
	}
	a.Status = StatusCompleted
	a.UpdatedAt = r.now()
	r.allocations[id] = a
	return nil
}
