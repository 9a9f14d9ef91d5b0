package campaign

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository for tests and early development.
type MemoryRepo struct {
	mu        sync.Mutex
	Campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Campaigns: map[string]Campaign{}} }

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Put(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Campaigns[c.ID] = c
}
