package dialer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dialer-platform/internal/allocation"
	"dialer-platform/internal/config"
	"dialer-platform/internal/telephony"
)

func TestSweepFailsOnlyStaleNonTerminalAttempts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	old := e.clock().Add(-48 * time.Hour)
	put := func(id string, status CallStatus, updatedAt time.Time) {
		e.attempts.Create(ctx, CallAttempt{
			ID:           id,
			AllocationID: "alloc-" + id,
			CampaignID:   "c1",
			PhoneNumber:  "15550001111",
			Type:         CallPredictive,
			Status:       status,
			StartTime:    updatedAt,
			UpdatedAt:    updatedAt,
		})
		e.allocations.Put(allocation.Allocation{
			ID:         "alloc-" + id,
			CampaignID: "c1",
			Status:     allocation.StatusInProgress,
			Priority:   allocation.PriorityMedium,
		})
	}
	put("stuck-initiated", StatusInitiated, old)
	put("stuck-ringing", StatusRinging, old)
	put("stuck-answered", StatusAnswered, old)
	put("already-done", StatusCompleted, old)
	put("fresh", StatusRinging, e.clock().Add(-time.Minute))

	reaper := NewReaper(e.manager, config.DialerConfig{
		StaleAfter:     24 * time.Hour,
		ReaperInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reaper.clock = e.clock

	reaper.Sweep(ctx)

	wantStatus := map[string]CallStatus{
		"stuck-initiated": StatusFailed,
		"stuck-ringing":   StatusFailed,
		// An answered attempt with no disposition ends as abandoned.
		"stuck-answered": StatusAbandoned,
		"already-done":   StatusCompleted,
		"fresh":          StatusRinging,
	}
	for id, want := range wantStatus {
		a, err := e.attempts.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if a.Status != want {
			t.Errorf("attempt %s status = %s, want %s", id, a.Status, want)
		}
	}

	// Swept attempts free their allocations for a later retry.
	for _, id := range []string{"stuck-initiated", "stuck-ringing", "stuck-answered"} {
		if got := e.allocationStatus(t, "alloc-"+id); got != allocation.StatusPending {
			t.Errorf("allocation for %s = %s, want pending", id, got)
		}
	}
	if got := e.allocationStatus(t, "alloc-fresh"); got != allocation.StatusInProgress {
		t.Errorf("fresh allocation = %s, want in_progress untouched", got)
	}
}

func TestSweepResolvesActiveCallsThroughNormalPath(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.addCampaign(t, "c1", "progressive")
	e.addAllocation("a1", "c1", "15550001111", allocation.PriorityMedium, e.clock())
	e.readyAgent(t, "agent-1", "c1")

	attempt, err := e.manager.CallNext(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}

	e.advance(25 * time.Hour)
	swept, err := e.manager.SweepStale(ctx, e.clock().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	persisted, _ := e.attempts.Get(ctx, attempt.ID)
	if persisted.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", persisted.Status)
	}
	if got := e.agentStatus(t, "agent-1"); got != "ready" {
		t.Fatalf("agent status = %s, want ready", got)
	}
	if st := e.registry.Status("c1"); st.InFlight != 0 {
		t.Fatalf("in-flight = %d, want 0", st.InFlight)
	}

	// A late hangup for the reaped channel is dropped.
	if _, err := e.manager.EndCall(ctx, attempt.ID, "paid", false); err == nil {
		t.Fatal("EndCall succeeded on a reaped attempt")
	}
}

func TestSweepFreesAllocationOfAnsweredActiveCall(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.addCampaign(t, "c1", "progressive")
	e.addAllocation("a1", "c1", "15550001111", allocation.PriorityMedium, e.clock())
	e.readyAgent(t, "agent-1", "c1")

	attempt, err := e.manager.CallNext(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	e.manager.HandleEvent(ctx, telephony.Event{Type: telephony.EventAnswered, ChannelID: attempt.ChannelID})

	e.advance(25 * time.Hour)
	if _, err := e.manager.SweepStale(ctx, e.clock().Add(-24*time.Hour)); err != nil {
		t.Fatalf("SweepStale: %v", err)
	}

	persisted, _ := e.attempts.Get(ctx, attempt.ID)
	if persisted.Status != StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", persisted.Status)
	}
	// An ordinary abandon keeps the in_progress claim, but a reaped call
	// will never see a disposition, so the sweep returns the allocation
	// to the queue.
	if got := e.allocationStatus(t, "a1"); got != allocation.StatusPending {
		t.Fatalf("allocation status = %s, want pending", got)
	}
}
