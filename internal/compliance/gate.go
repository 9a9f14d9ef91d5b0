package compliance

import (
	"context"
	"time"

	"dialer-platform/internal/dnc"
)

// Gate decides whether a number may be dialed right now.
//
// Pure decision logic: DNC membership plus the permitted calling window in
// the operation's local zone. Called before every origination; no side
// effects. Rule changes here are policy updates, not engine redesigns.
type Gate struct {
	dnc dnc.Repository
	loc *time.Location

	// Window hours in local time. Start inclusive, end exclusive.
	startHour int
	endHour   int
}

// Decision is the gate verdict. Reason is set only on denial.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonDncListed    = "dnc_listed"
	ReasonOutsideHours = "outside_calling_hours"
)

func NewGate(dncRepo dnc.Repository, loc *time.Location, startHour, endHour int) *Gate {
	return &Gate{dnc: dncRepo, loc: loc, startHour: startHour, endHour: endHour}
}

// MayDial returns allow, or deny with a reason. DNC wins over the clock:
// a listed number is denied regardless of time of day.
func (g *Gate) MayDial(ctx context.Context, phoneNumber string, now time.Time) (Decision, error) {
	listed, err := g.dnc.Contains(ctx, phoneNumber)
	if err != nil {
		return Decision{}, err
	}
	if listed {
		return Decision{Reason: ReasonDncListed}, nil
	}

	hour := now.In(g.loc).Hour()
	if hour < g.startHour || hour >= g.endHour {
		return Decision{Reason: ReasonOutsideHours}, nil
	}

	return Decision{Allowed: true}, nil
}
