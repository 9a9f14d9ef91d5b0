package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository for tests and early development.
// Conditional transitions hold the mutex for the whole check-and-set, giving
// the same exclusivity as the SQL conditional update.
type MemoryRepo struct {
	mu     sync.Mutex
	agents map[string]AgentStatus
	Clock  func() time.Time
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{agents: map[string]AgentStatus{}} }

func (r *MemoryRepo) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r *MemoryRepo) Get(ctx context.Context, agentID string) (AgentStatus, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return AgentStatus{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ListAvailable(ctx context.Context, campaignID string) ([]AgentStatus, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AgentStatus
	for _, a := range r.agents {
		if a.Status == StatusReady && a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].LastActivity.Before(out[j].LastActivity)
	})
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, agentID string, status Status, campaignID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.agents[agentID]
	a.AgentID = agentID
	a.Status = status
	if campaignID != "" {
		a.CampaignID = campaignID
	}
	a.LastActivity = r.now()
	r.agents[agentID] = a
	return nil
}

func (r *MemoryRepo) TransitionStatus(ctx context.Context, agentID string, from, to Status) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.LastActivity = r.now()
	r.agents[agentID] = a
	return true, nil
}
