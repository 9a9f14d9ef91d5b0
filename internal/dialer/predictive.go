package dialer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/allocation"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/config"
)

// Controller runs the predictive pacing loop: every tick it sizes a dial
// batch per active predictive campaign from agent availability, target
// occupancy and the observed abandon rate, then originates agent-bound
// calls round-robin over the ready agents.
type Controller struct {
	manager *Manager
	cfg     config.DialerConfig
	logger  *slog.Logger
}

func NewController(manager *Manager, cfg config.DialerConfig, logger *slog.Logger) *Controller {
	return &Controller{manager: manager, cfg: cfg, logger: logger}
}

// Run ticks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one pacing pass over every active predictive campaign. Split
// from Run so tests can step the controller manually. No per-call error
// aborts the pass.
func (c *Controller) Tick(ctx context.Context) {
	for _, camp := range c.manager.deps.Registry.ActivePredictive() {
		c.tickCampaign(ctx, camp)
	}
}

func (c *Controller) tickCampaign(ctx context.Context, camp campaign.Campaign) {
	agents, err := c.manager.matcher.AvailableAgents(ctx, camp.ID)
	if err != nil {
		c.logger.Error("list available agents", "campaign_id", camp.ID, "error", err)
		return
	}
	if len(agents) == 0 {
		return
	}

	stats := c.manager.deps.Registry.Status(camp.ID).Stats
	rate := PacingRate(camp.TargetOccupancy, len(agents), c.cfg.AverageHandleTimeSeconds,
		camp.AbandonCap, stats.AbandonRate(), c.cfg.AbandonStep)
	if rate == 0 {
		return
	}

	batch := rate
	if limit := len(agents) * c.cfg.DialAheadRatio; batch > limit {
		batch = limit
	}

	dialed := 0
	next := 0
	for i := 0; i < batch; i++ {
		alloc, err := c.manager.matcher.NextAllocation(ctx, camp.ID)
		if err != nil {
			if !errors.Is(err, allocation.ErrNoWorkAvailable) {
				c.logger.Error("claim allocation", "campaign_id", camp.ID, "error", err)
			}
			break
		}

		ag, moved := c.claimAgent(ctx, agents, &next)
		if !moved {
			c.manager.releaseAllocation(ctx, alloc.ID)
			break
		}

		if _, err := c.manager.makeCall(ctx, camp, alloc, ag, CallPredictive); err != nil {
			// makeCall already released the allocation; free the agent and
			// keep dialing the batch.
			c.manager.releaseAgent(ctx, ag)
			c.logger.Warn("predictive dial failed",
				"campaign_id", camp.ID,
				"allocation_id", alloc.ID,
				"error", err)
			continue
		}
		dialed++
	}

	if dialed > 0 {
		c.logger.Info("pacing tick",
			"campaign_id", camp.ID,
			"available_agents", len(agents),
			"dial_rate", rate,
			"dialed", dialed)
	}
}

// claimAgent probes the ready list round-robin until one agent transitions
// ready -> on_call. The cursor wraps so an agent freed by an earlier failed
// dial can be claimed again within the same tick; probes are bounded by the
// list length.
func (c *Controller) claimAgent(ctx context.Context, agents []agent.AgentStatus, next *int) (string, bool) {
	for probes := 0; probes < len(agents); probes++ {
		candidate := agents[*next%len(agents)]
		*next++
		moved, err := c.manager.deps.Agents.TransitionStatus(ctx, candidate.AgentID, agent.StatusReady, agent.StatusOnCall)
		if err != nil {
			c.logger.Error("transition agent", "agent_id", candidate.AgentID, "error", err)
			continue
		}
		if moved {
			return candidate.AgentID, true
		}
	}
	return "", false
}

// PacingRate computes the number of calls to originate this tick.
//
// baseRate = ceil((occupancy/100) × agents × 3600/AHT) — calls per hour the
// agent pool can absorb at the target occupancy, scaled to the tick by the
// caller through the dial-ahead bound.
// dialRate = max(1, ceil(baseRate × (1 − abandonCap/100))), damped by a
// flat step while the observed abandon rate exceeds the cap. Never below 0.
func PacingRate(targetOccupancy, availableAgents, ahtSeconds, abandonCap int, observedAbandon float64, abandonStep int) int {
	if availableAgents <= 0 || ahtSeconds <= 0 {
		return 0
	}

	base := math.Ceil(float64(targetOccupancy) / 100 * float64(availableAgents) * 3600 / float64(ahtSeconds))
	rate := int(math.Ceil(base * (1 - float64(abandonCap)/100)))
	if rate < 1 {
		rate = 1
	}
	if observedAbandon > float64(abandonCap) {
		rate -= abandonStep
		if rate < 0 {
			rate = 0
		}
	}
	return rate
}
