package allocation

import (
	"context"

	"dialer-platform/internal/agent"
)

// Matcher selects work and workers for dial decisions.
//
// Claiming is exclusive: NextAllocation relies on the repository's
// conditional pending->in_progress update, so two matchers (or two engine
// instances) can never dial the same allocation.
type Matcher struct {
	Allocations Repository
	Agents      agent.Repository
}

// NextAllocation claims the oldest-created, highest-priority pending
// allocation for the campaign. Returns ErrNoWorkAvailable when drained.
func (m *Matcher) NextAllocation(ctx context.Context, campaignID string) (Allocation, error) {
	return m.Allocations.ClaimNext(ctx, campaignID)
}

// AvailableAgents lists ready agents assigned to the campaign.
func (m *Matcher) AvailableAgents(ctx context.Context, campaignID string) ([]agent.AgentStatus, error) {
	return m.Agents.ListAvailable(ctx, campaignID)
}
