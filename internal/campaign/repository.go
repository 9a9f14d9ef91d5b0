package campaign

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("campaign not found")

// Repository abstracts campaign snapshot loading.
type Repository interface {
	Get(ctx context.Context, id string) (Campaign, error)
}

// PostgresRepo reads campaign rows via database/sql.
type PostgresRepo struct {
	DB *sql.DB
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, dial_mode, caller_id, target_occupancy, abandon_cap, active, created_at, updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.Name,
		&c.DialMode,
		&c.CallerID,
		&c.TargetOccupancy,
		&c.AbandonCap,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}
