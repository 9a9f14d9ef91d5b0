package dialer

import (
	"context"
	"fmt"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/campaign"
)

// CallNext originates one progressive call for a ready agent. The agent is
// moved ready -> on_call atomically at origination, so an agent can never
// hold more than one in-flight call.
func (m *Manager) CallNext(ctx context.Context, agentID string) (CallAttempt, error) {
	ag, err := m.deps.Agents.Get(ctx, agentID)
	if err != nil {
		return CallAttempt{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if ag.Status != agent.StatusReady {
		return CallAttempt{}, ErrAgentNotReady
	}
	if ag.CampaignID == "" {
		return CallAttempt{}, ErrNoCampaignAssigned
	}

	camp, ok := m.deps.Registry.Snapshot(ag.CampaignID)
	if !ok {
		return CallAttempt{}, fmt.Errorf("campaign %s: %w", ag.CampaignID, campaign.ErrNotActive)
	}

	alloc, err := m.matcher.NextAllocation(ctx, camp.ID)
	if err != nil {
		return CallAttempt{}, err
	}

	moved, err := m.deps.Agents.TransitionStatus(ctx, agentID, agent.StatusReady, agent.StatusOnCall)
	if err != nil {
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, fmt.Errorf("transition agent %s: %w", agentID, err)
	}
	if !moved {
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, ErrAgentNotReady
	}

	attempt, err := m.makeCall(ctx, camp, alloc, agentID, CallProgressive)
	if err != nil {
		m.releaseAgent(ctx, agentID)
		return CallAttempt{}, err
	}
	return attempt, nil
}
