package agent

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("agent not found")

// Repository abstracts agent status persistence.
//
// TransitionStatus is the exclusivity boundary for call assignment:
// an agent can back only one active call, enforced by the conditional
// ready->on_call update.
type Repository interface {
	Get(ctx context.Context, agentID string) (AgentStatus, error)
	ListAvailable(ctx context.Context, campaignID string) ([]AgentStatus, error)

	// SetStatus upserts the agent row (external agent actions).
	SetStatus(ctx context.Context, agentID string, status Status, campaignID string) error

	// TransitionStatus updates status only if the current value matches from.
	// Returns false without error when the condition fails.
	TransitionStatus(ctx context.Context, agentID string, from, to Status) (bool, error)
}

// PostgresRepo persists agent status via database/sql.
type PostgresRepo struct {
	DB    *sql.DB
	Clock func() time.Time
}

func (r *PostgresRepo) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r *PostgresRepo) Get(ctx context.Context, agentID string) (AgentStatus, error) {
	const q = `
SELECT agent_id, status, COALESCE(campaign_id, ''), last_activity
FROM agent_statuses
WHERE agent_id = $1
`
	var a AgentStatus
	if err := r.DB.QueryRowContext(ctx, q, agentID).Scan(
		&a.AgentID,
		&a.Status,
		&a.CampaignID,
		&a.LastActivity,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentStatus{}, ErrNotFound
		}
		return AgentStatus{}, err
	}
	return a, nil
}

func (r *PostgresRepo) ListAvailable(ctx context.Context, campaignID string) ([]AgentStatus, error) {
	const q = `
SELECT agent_id, status, COALESCE(campaign_id, ''), last_activity
FROM agent_statuses
WHERE status = $1 AND campaign_id = $2
ORDER BY last_activity ASC
`
	rows, err := r.DB.QueryContext(ctx, q, StatusReady, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentStatus
	for rows.Next() {
		var a AgentStatus
		if err := rows.Scan(&a.AgentID, &a.Status, &a.CampaignID, &a.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetStatus(ctx context.Context, agentID string, status Status, campaignID string) error {
	const q = `
INSERT INTO agent_statuses (agent_id, status, campaign_id, last_activity)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (agent_id)
DO UPDATE SET status = EXCLUDED.status,
              campaign_id = EXCLUDED.campaign_id,
              last_activity = EXCLUDED.last_activity
`
	_, err := r.DB.ExecContext(ctx, q, agentID, status, campaignID, r.now())
	return err
}

func (r *PostgresRepo) TransitionStatus(ctx context.Context, agentID string, from, to Status) (bool, error) {
	const q = `
UPDATE agent_statuses
SET status = $3, last_activity = $4
WHERE agent_id = $1 AND status = $2
`
	res, err := r.DB.ExecContext(ctx, q, agentID, from, to, r.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
