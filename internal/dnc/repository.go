package dnc

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrAlreadyListed = errors.New("number already on dnc list")

// DncNumber is a phone number that must never be dialed.
type DncNumber struct {
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Reason      string    `json:"reason" db:"reason"`
	AddedBy     string    `json:"added_by" db:"added_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Repository abstracts the do-not-call list. The dialing core only reads it.
type Repository interface {
	Contains(ctx context.Context, phoneNumber string) (bool, error)
	Add(ctx context.Context, n DncNumber) error
	Get(ctx context.Context, phoneNumber string) (DncNumber, bool, error)
}

// PostgresRepo backs the DNC list with a table keyed by phone number.
type PostgresRepo struct {
	DB *sql.DB
}

func (r *PostgresRepo) Contains(ctx context.Context, phoneNumber string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM dnc_numbers WHERE phone_number = $1)`
	var ok bool
	if err := r.DB.QueryRowContext(ctx, q, phoneNumber).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PostgresRepo) Add(ctx context.Context, n DncNumber) error {
	const q = `
INSERT INTO dnc_numbers (phone_number, reason, added_by, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (phone_number) DO NOTHING
`
	res, err := r.DB.ExecContext(ctx, q, n.PhoneNumber, n.Reason, n.AddedBy, n.CreatedAt)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyListed
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, phoneNumber string) (DncNumber, bool, error) {
	const q = `
SELECT phone_number, reason, added_by, created_at
FROM dnc_numbers
WHERE phone_number = $1
`
	var n DncNumber
	err := r.DB.QueryRowContext(ctx, q, phoneNumber).Scan(&n.PhoneNumber, &n.Reason, &n.AddedBy, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DncNumber{}, false, nil
		}
		return DncNumber{}, false, err
	}
	return n, true, nil
}
