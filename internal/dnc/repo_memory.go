package dnc

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory DNC list for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	numbers map[string]DncNumber
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{numbers: map[string]DncNumber{}} }

func (r *MemoryRepo) Contains(ctx context.Context, phoneNumber string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.numbers[phoneNumber]
	return ok, nil
}

func (r *MemoryRepo) Add(ctx context.Context, n DncNumber) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.numbers[n.PhoneNumber]; ok {
		return ErrAlreadyListed
	}
	r.numbers[n.PhoneNumber] = n
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, phoneNumber string) (DncNumber, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[phoneNumber]
	return n, ok, nil
}
