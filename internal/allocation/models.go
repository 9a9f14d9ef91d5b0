package allocation

import "time"

// Allocation is one unit of outbound work: a debtor contact to be dialed.
//
// Claim invariant: at most one active call attempt may reference an
// allocation while it is in_progress. The pending->in_progress transition
// is the exclusivity boundary and must be a conditional update.
type Allocation struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	DebtorName  string `json:"debtor_name" db:"debtor_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// AmountDueMinor is the outstanding debt in minor currency units.
	AmountDueMinor int64 `json:"amount_due_minor" db:"amount_due_minor"`

	Status   Status   `json:"status" db:"status"`
	Priority Priority `json:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for matching: high before medium before low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}
