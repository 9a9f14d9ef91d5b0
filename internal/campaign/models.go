package campaign

import "time"

// Campaign is the read-only runtime snapshot of a campaign record.
// Administrative CRUD owns the row; the engine only loads it at start
// and consults the cached copy while the campaign runs.
type Campaign struct {
	ID       string   `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	DialMode DialMode `json:"dial_mode" db:"dial_mode"`
	CallerID string   `json:"caller_id" db:"caller_id"`

	// TargetOccupancy is the desired percentage of agent time on calls (0-100).
	TargetOccupancy int `json:"target_occupancy" db:"target_occupancy"`

	// AbandonCap is the max tolerated abandon rate percentage (0-100).
	AbandonCap int `json:"abandon_cap" db:"abandon_cap"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type DialMode string

const (
	DialModeProgressive DialMode = "progressive"
	DialModePredictive  DialMode = "predictive"
)

// Stats are in-memory aggregate counters, zeroed at campaign start.
type Stats struct {
	TotalCalls     int `json:"total_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	CompletedCalls int `json:"completed_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
}

// AbandonRate returns the observed abandon percentage over calls so far.
func (s Stats) AbandonRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.AbandonedCalls) / float64(s.TotalCalls) * 100
}

// Status is the runtime view returned to callers.
type Status struct {
	CampaignID string        `json:"campaign_id"`
	Active     bool          `json:"active"`
	Stats      Stats         `json:"stats"`
	InFlight   int           `json:"in_flight"`
	Uptime     time.Duration `json:"uptime"`
}
