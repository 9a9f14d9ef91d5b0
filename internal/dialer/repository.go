package dialer

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AttemptRepository persists call attempts. Attempts are append-mostly: the
// manager creates one row per origination and updates it through the state
// machine.
type AttemptRepository interface {
	Create(ctx context.Context, a CallAttempt) error
	Update(ctx context.Context, a CallAttempt) error
	Get(ctx context.Context, id string) (CallAttempt, error)

	// ListStale returns non-terminal attempts whose last update is older
	// than the cutoff; the reaper fails them.
	ListStale(ctx context.Context, olderThan time.Time) ([]CallAttempt, error)
}

// PostgresAttemptRepo persists attempts via database/sql.
type PostgresAttemptRepo struct {
	DB *sql.DB
}

func (r *PostgresAttemptRepo) Create(ctx context.Context, a CallAttempt) error {
	const q = `
INSERT INTO call_attempts (
  id, allocation_id, campaign_id, agent_id, phone_number, call_type, status,
  start_time, answer_time, end_time, duration_seconds, channel_id,
  consent_captured, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`
	_, err := r.DB.ExecContext(ctx, q,
		a.ID,
		a.AllocationID,
		a.CampaignID,
		nullString(a.AgentID),
		a.PhoneNumber,
		a.Type,
		a.Status,
		a.StartTime,
		a.AnswerTime,
		a.EndTime,
		a.DurationSeconds,
		nullString(a.ChannelID),
		a.ConsentCaptured,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

func (r *PostgresAttemptRepo) Update(ctx context.Context, a CallAttempt) error {
	const q = `
UPDATE call_attempts
SET status = $1, answer_time = $2, end_time = $3, duration_seconds = $4,
    channel_id = $5, consent_captured = $6, updated_at = $7
WHERE id = $8
`
	res, err := r.DB.ExecContext(ctx, q,
		a.Status,
		a.AnswerTime,
		a.EndTime,
		a.DurationSeconds,
		nullString(a.ChannelID),
		a.ConsentCaptured,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *PostgresAttemptRepo) Get(ctx context.Context, id string) (CallAttempt, error) {
	const q = `
SELECT id, allocation_id, campaign_id, COALESCE(agent_id, ''), phone_number,
       call_type, status, start_time, answer_time, end_time, duration_seconds,
       COALESCE(channel_id, ''), consent_captured, created_at, updated_at
FROM call_attempts
WHERE id = $1
`
	a, err := scanAttempt(r.DB.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallAttempt{}, ErrAttemptNotFound
		}
		return CallAttempt{}, err
	}
	return a, nil
}

func (r *PostgresAttemptRepo) ListStale(ctx context.Context, olderThan time.Time) ([]CallAttempt, error) {
	const q = `
SELECT id, allocation_id, campaign_id, COALESCE(agent_id, ''), phone_number,
       call_type, status, start_time, answer_time, end_time, duration_seconds,
       COALESCE(channel_id, ''), consent_captured, created_at, updated_at
FROM call_attempts
WHERE status IN ($1, $2, $3) AND updated_at < $4
ORDER BY updated_at ASC
`
	rows, err := r.DB.QueryContext(ctx, q, StatusInitiated, StatusRinging, StatusAnswered, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (CallAttempt, error) {
	var a CallAttempt
	err := row.Scan(
		&a.ID,
		&a.AllocationID,
		&a.CampaignID,
		&a.AgentID,
		&a.PhoneNumber,
		&a.Type,
		&a.Status,
		&a.StartTime,
		&a.AnswerTime,
		&a.EndTime,
		&a.DurationSeconds,
		&a.ChannelID,
		&a.ConsentCaptured,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
