package agent

import "time"

// AgentStatus tracks one agent's availability and campaign assignment.
// The engine flips ready->on_call at origination time; agent-driven
// actions (ready, break, wrap, offline) arrive through the HTTP surface.
type AgentStatus struct {
	AgentID      string    `json:"agent_id" db:"agent_id"`
	Status       Status    `json:"status" db:"status"`
	CampaignID   string    `json:"campaign_id,omitempty" db:"campaign_id"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
}

type Status string

const (
	StatusOffline Status = "offline"
	StatusReady   Status = "ready"
	StatusWrap    Status = "wrap"
	StatusBreak   Status = "break"
	StatusOnCall  Status = "on_call"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusReady, StatusWrap, StatusBreak, StatusOnCall:
		return true
	default:
		return false
	}
}
