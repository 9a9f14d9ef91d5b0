package allocation

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNoWorkAvailable = errors.New("no pending allocations")
	ErrNotFound        = errors.New("allocation not found")
)

// Repository abstracts allocation persistence.
//
// ClaimNext must atomically select and mark the best pending allocation
// in_progress; concurrent claimers must never receive the same row.
type Repository interface {
	Get(ctx context.Context, id string) (Allocation, error)

	// ClaimNext claims the highest-priority, oldest pending allocation for
	// the campaign. Returns ErrNoWorkAvailable when the queue is empty.
	ClaimNext(ctx context.Context, campaignID string) (Allocation, error)

	// Release reverts an in_progress allocation back to pending
	// (dial origination failed before a channel existed).
	Release(ctx context.Context, id string) error

	// Complete marks an in_progress allocation worked to completion.
	Complete(ctx context.Context, id string) error
}

// PostgresRepo persists allocations via database/sql.
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

func (r *PostgresRepo) Get(ctx context.Context, id string) (Allocation, error) {
	const q = `
SELECT id, campaign_id, debtor_name, phone_number, amount_due_minor, status, priority, created_at, updated_at
FROM allocations
WHERE id = $1
`
	var a Allocation
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.CampaignID,
		&a.DebtorName,
		&a.PhoneNumber,
		&a.AmountDueMinor,
		&a.Status,
		&a.Priority,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Allocation{}, ErrNotFound
		}
		return Allocation{}, err
	}
	return a, nil
}

// ClaimNext picks the best pending row and flips it in_progress in one
// statement. SKIP LOCKED keeps concurrent claimers off the same row, so a
// lost race simply yields the next candidate instead of an error.
func (r *PostgresRepo) ClaimNext(ctx context.Context, campaignID string) (Allocation, error) {
	const q = `
UPDATE allocations
SET status = $1, updated_at = $2
WHERE id = (
  SELECT id
  FROM allocations
  WHERE campaign_id = $3 AND status = $4
  ORDER BY
    CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
    created_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING id, campaign_id, debtor_name, phone_number, amount_due_minor, status, priority, created_at, updated_at
`
	var a Allocation
	if err := r.DB.QueryRowContext(ctx, q, StatusInProgress, r.now(), campaignID, StatusPending).Scan(
		&a.ID,
		&a.CampaignID,
		&a.DebtorName,
		&a.PhoneNumber,
		&a.AmountDueMinor,
		&a.Status,
		&a.Priority,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Allocation{}, ErrNoWorkAvailable
		}
		return Allocation{}, err
	}
	return a, nil
}

func (r *PostgresRepo) Release(ctx context.Context, id string) error {
	const q = `
UPDATE allocations
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.DB.ExecContext(ctx, q, StatusPending, r.now(), id, StatusInProgress)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string) error {
	const q = `
UPDATE allocations
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.DB.ExecContext(ctx, q, StatusCompleted, r.now(), id, StatusInProgress)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
