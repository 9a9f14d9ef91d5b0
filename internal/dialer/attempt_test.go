package dialer

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestAttemptHappyPath(t *testing.T) {
	a := CallAttempt{Status: StatusInitiated, StartTime: t0}

	if err := a.MarkRinging(t0.Add(2 * time.Second)); err != nil {
		t.Fatalf("MarkRinging: %v", err)
	}
	if a.AnswerTime != nil || a.EndTime != nil {
		t.Fatal("ringing must not set timestamps")
	}

	if err := a.MarkAnswered(t0.Add(5 * time.Second)); err != nil {
		t.Fatalf("MarkAnswered: %v", err)
	}
	if a.AnswerTime == nil || !a.AnswerTime.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("answer time = %v, want %v", a.AnswerTime, t0.Add(5*time.Second))
	}

	if err := a.MarkCompleted(t0.Add(95*time.Second + 700*time.Millisecond)); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if a.DurationSeconds != 90 {
		t.Fatalf("duration = %d, want floor of 90.7s = 90", a.DurationSeconds)
	}
	if a.EndTime == nil {
		t.Fatal("completed must set end time")
	}
}

func TestDuplicateAnsweredKeepsFirstTimestamp(t *testing.T) {
	a := CallAttempt{Status: StatusRinging}

	if err := a.MarkAnswered(t0); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if err := a.MarkAnswered(t0.Add(10 * time.Second)); err != nil {
		t.Fatalf("duplicate answer must be a no-op, got %v", err)
	}
	if !a.AnswerTime.Equal(t0) {
		t.Fatalf("answer time = %v, want first signal %v", a.AnswerTime, t0)
	}
}

func TestFailedKeepsZeroDuration(t *testing.T) {
	a := CallAttempt{Status: StatusRinging}
	if err := a.MarkFailed(t0); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if a.DurationSeconds != 0 {
		t.Fatalf("duration = %d, want 0 for pre-answer failure", a.DurationSeconds)
	}
}

func TestTerminalIsImmutable(t *testing.T) {
	for _, terminal := range []CallStatus{StatusCompleted, StatusFailed, StatusAbandoned} {
		a := CallAttempt{Status: terminal}
		for _, mark := range []func(time.Time) error{a.MarkRinging, a.MarkCompleted, a.MarkFailed, a.MarkAbandoned} {
			if err := mark(t0); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("transition from %s: err = %v, want ErrInvalidTransition", terminal, err)
			}
		}
		if err := a.MarkAnswered(t0); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("answer from %s: err = %v, want ErrInvalidTransition", terminal, err)
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct {
		name string
		from CallStatus
		mark func(*CallAttempt, time.Time) error
	}{
		{"complete before answer", StatusRinging, (*CallAttempt).MarkCompleted},
		{"abandon before ring", StatusInitiated, (*CallAttempt).MarkAbandoned},
		{"fail after answer", StatusAnswered, (*CallAttempt).MarkFailed},
		{"ring after answer", StatusAnswered, (*CallAttempt).MarkRinging},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := CallAttempt{Status: tc.from}
			if err := tc.mark(&a, t0); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
			if a.Status != tc.from {
				t.Fatalf("status changed to %s on rejected transition", a.Status)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []CallStatus{StatusInitiated, StatusRinging, StatusAnswered} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	for _, s := range []CallStatus{StatusCompleted, StatusFailed, StatusAbandoned} {
		if !s.Terminal() {
			t.Fatalf("%s reported non-terminal", s)
		}
	}
}
