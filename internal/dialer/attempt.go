package dialer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrComplianceDenied wraps the gate's denial reason.
	ErrComplianceDenied = errors.New("compliance denied")

	// ErrNoCampaignAssigned means the agent has no campaign to pull from.
	ErrNoCampaignAssigned = errors.New("agent has no campaign assigned")

	// ErrAgentNotReady means the agent lost the ready state before the
	// origination could bind the call to them.
	ErrAgentNotReady = errors.New("agent is not ready")

	// ErrAttemptNotFound means the call attempt id is unknown.
	ErrAttemptNotFound = errors.New("call attempt not found")

	// ErrInvalidTransition reports a disposition that the attempt's current
	// state does not permit.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrCampaignAtCapacity means the shared per-campaign in-flight cap is
	// full; the caller retries on a later tick.
	ErrCampaignAtCapacity = errors.New("campaign at concurrency capacity")
)

// CallType tags an attempt with the pacing mode that originated it.
type CallType string

const (
	CallProgressive CallType = "progressive"
	CallPredictive  CallType = "predictive"
)

// CallStatus is the attempt lifecycle state.
type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusCompleted CallStatus = "completed"
	StatusFailed    CallStatus = "failed"
	StatusAbandoned CallStatus = "abandoned"
)

// Terminal reports whether the status is final. Terminal attempts are
// immutable; further events against them are dropped.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// CallAttempt is one origination against one allocation. The attempt
// manager is the single writer; everyone else observes copies.
type CallAttempt struct {
	ID           string     `json:"id" db:"id"`
	AllocationID string     `json:"allocation_id" db:"allocation_id"`
	CampaignID   string     `json:"campaign_id" db:"campaign_id"`
	AgentID      string     `json:"agent_id,omitempty" db:"agent_id"`
	PhoneNumber  string     `json:"phone_number" db:"phone_number"`
	Type         CallType   `json:"type" db:"call_type"`
	Status       CallStatus `json:"status" db:"status"`

	StartTime  time.Time  `json:"start_time" db:"start_time"`
	AnswerTime *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime    *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is talk time: floor(endTime − answerTime). Zero for
	// attempts that never reached answered.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	ChannelID       string `json:"channel_id,omitempty" db:"channel_id"`
	ConsentCaptured bool   `json:"consent_captured" db:"consent_captured"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MarkRinging records the session-started signal. Timestamps are untouched.
func (a *CallAttempt) MarkRinging(now time.Time) error {
	if a.Status != StatusInitiated {
		return transitionErr(a.Status, StatusRinging)
	}
	a.Status = StatusRinging
	a.UpdatedAt = now
	return nil
}

// MarkAnswered sets answerTime exactly once. A duplicate answer signal on an
// already-answered attempt is a no-op, not an error.
func (a *CallAttempt) MarkAnswered(now time.Time) error {
	if a.Status == StatusAnswered {
		return nil
	}
	if a.Status != StatusInitiated && a.Status != StatusRinging {
		return transitionErr(a.Status, StatusAnswered)
	}
	a.Status = StatusAnswered
	ts := now
	a.AnswerTime = &ts
	a.UpdatedAt = now
	return nil
}

// MarkCompleted records an agent disposition on an answered call.
func (a *CallAttempt) MarkCompleted(now time.Time) error {
	if a.Status != StatusAnswered {
		return transitionErr(a.Status, StatusCompleted)
	}
	a.Status = StatusCompleted
	a.close(now)
	return nil
}

// MarkFailed records a pre-answer failure or timeout. Duration stays zero.
func (a *CallAttempt) MarkFailed(now time.Time) error {
	if a.Status != StatusInitiated && a.Status != StatusRinging {
		return transitionErr(a.Status, StatusFailed)
	}
	a.Status = StatusFailed
	a.close(now)
	return nil
}

// MarkAbandoned records a hangup without disposition or a forced
// termination.
func (a *CallAttempt) MarkAbandoned(now time.Time) error {
	if a.Status != StatusRinging && a.Status != StatusAnswered {
		return transitionErr(a.Status, StatusAbandoned)
	}
	a.Status = StatusAbandoned
	a.close(now)
	return nil
}

func (a *CallAttempt) close(now time.Time) {
	ts := now
	a.EndTime = &ts
	if a.AnswerTime != nil {
		d := now.Sub(*a.AnswerTime)
		if d > 0 {
			a.DurationSeconds = int(d.Seconds())
		}
	}
	a.UpdatedAt = now
}

func transitionErr(from, to CallStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
