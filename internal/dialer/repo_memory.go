package dialer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryAttemptRepo is an in-memory attempt store for tests.
type MemoryAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]CallAttempt
}

func NewMemoryAttemptRepo() *MemoryAttemptRepo {
	return &MemoryAttemptRepo{attempts: map[string]CallAttempt{}}
}

func (r *MemoryAttemptRepo) Create(ctx context.Context, a CallAttempt) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[a.ID] = a
	return nil
}

func (r *MemoryAttemptRepo) Update(ctx context.Context, a CallAttempt) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[a.ID]; !ok {
		return ErrAttemptNotFound
	}
	r.attempts[a.ID] = a
	return nil
}

func (r *MemoryAttemptRepo) Get(ctx context.Context, id string) (CallAttempt, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return CallAttempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (r *MemoryAttemptRepo) ListStale(ctx context.Context, olderThan time.Time) ([]CallAttempt, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallAttempt
	for _, a := range r.attempts {
		if !a.Status.Terminal() && a.UpdatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
