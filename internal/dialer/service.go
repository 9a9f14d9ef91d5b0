package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/allocation"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/events"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/utils"
)

// ActiveCall joins a live attempt to its channel, agent and campaign. The
// manager's active set is the authoritative in-flight view.
type ActiveCall struct {
	Attempt CallAttempt

	// recordingRef names the live recording started at answer, if any.
	recordingRef string

	// capHeld marks that a shared concurrency slot was acquired for this
	// call and must be released at termination.
	capHeld bool
}

// ManagerDeps wires the attempt manager.
type ManagerDeps struct {
	Attempts    AttemptRepository
	Allocations allocation.Repository
	Agents      agent.Repository
	Registry    *campaign.Registry
	Gate        *compliance.Gate
	Gateway     telephony.Gateway
	Publisher   events.Publisher
	Logger      *slog.Logger

	// Redis is optional; when set together with a positive
	// MaxCallsPerCampaign it enforces a cross-instance in-flight cap.
	Redis  *redis.Client
	Config config.DialerConfig
}

// Manager owns every call attempt from origination to terminal state. It is
// the single writer for attempt transitions; the event-stream consumer, the
// pacing controller and HTTP handlers all go through it.
type Manager struct {
	deps    ManagerDeps
	matcher *allocation.Matcher

	mu        sync.Mutex
	active    map[string]*ActiveCall // attempt id -> call
	byChannel map[string]string      // channel id -> attempt id

	clock func() time.Time
	newID func() string
}

func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		deps:      deps,
		matcher:   &allocation.Matcher{Allocations: deps.Allocations, Agents: deps.Agents},
		active:    map[string]*ActiveCall{},
		byChannel: map[string]string{},
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// WithClock overrides the time source for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// StartCampaign activates a campaign and announces it on the event bus.
func (m *Manager) StartCampaign(ctx context.Context, campaignID string) (campaign.Status, error) {
	st, err := m.deps.Registry.Start(ctx, campaignID)
	if err != nil {
		return campaign.Status{}, err
	}
	m.publish(ctx, events.TopicCampaignStarted, map[string]any{
		"campaign_id": campaignID,
		"timestamp":   m.clock(),
	})
	return st, nil
}

// StopCampaign deactivates a campaign. In-flight calls run to natural
// termination; only new originations stop.
func (m *Manager) StopCampaign(ctx context.Context, campaignID string) error {
	if err := m.deps.Registry.Stop(ctx, campaignID); err != nil {
		return err
	}
	m.publish(ctx, events.TopicCampaignStopped, map[string]any{
		"campaign_id": campaignID,
		"timestamp":   m.clock(),
	})
	return nil
}

// CampaignStatus returns the runtime view of a campaign.
func (m *Manager) CampaignStatus(campaignID string) campaign.Status {
	return m.deps.Registry.Status(campaignID)
}

// makeCall runs the full origination path: compliance gate, optional shared
// cap, attempt creation, gateway originate, active-set registration. On any
// failure the allocation goes back to pending and the error reports why.
func (m *Manager) makeCall(ctx context.Context, camp campaign.Campaign, alloc allocation.Allocation, agentID string, typ CallType) (CallAttempt, error) {
	now := m.clock()

	decision, err := m.deps.Gate.MayDial(ctx, alloc.PhoneNumber, now)
	if err != nil {
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, fmt.Errorf("compliance check: %w", err)
	}
	if !decision.Allowed {
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, fmt.Errorf("%w: %s", ErrComplianceDenied, decision.Reason)
	}

	capHeld, err := m.acquireCap(ctx, camp.ID)
	if err != nil {
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, err
	}

	attempt := CallAttempt{
		ID:           m.newID(),
		AllocationID: alloc.ID,
		CampaignID:   camp.ID,
		AgentID:      agentID,
		PhoneNumber:  alloc.PhoneNumber,
		Type:         typ,
		Status:       StatusInitiated,
		StartTime:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.deps.Attempts.Create(ctx, attempt); err != nil {
		m.releaseCap(ctx, camp.ID, capHeld)
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, fmt.Errorf("persist attempt: %w", err)
	}

	channelID, err := m.deps.Gateway.Originate(ctx, alloc.PhoneNumber, camp.CallerID)
	if err != nil {
		now = m.clock()
		attempt.MarkFailed(now)
		if uerr := m.deps.Attempts.Update(ctx, attempt); uerr != nil {
			m.deps.Logger.Error("persist failed attempt", "attempt_id", attempt.ID, "error", uerr)
		}
		m.releaseCap(ctx, camp.ID, capHeld)
		m.releaseAllocation(ctx, alloc.ID)
		return CallAttempt{}, fmt.Errorf("originate: %w", err)
	}

	attempt.ChannelID = channelID
	attempt.UpdatedAt = m.clock()
	if err := m.deps.Attempts.Update(ctx, attempt); err != nil {
		m.deps.Logger.Error("persist channel id", "attempt_id", attempt.ID, "error", err)
	}

	m.mu.Lock()
	m.active[attempt.ID] = &ActiveCall{Attempt: attempt, capHeld: capHeld}
	m.byChannel[channelID] = attempt.ID
	m.mu.Unlock()

	m.deps.Registry.CallStarted(camp.ID)
	m.publish(ctx, events.TopicCallInitiated, map[string]any{
		"attempt_id":  attempt.ID,
		"campaign_id": camp.ID,
		"agent_id":    agentID,
		"channel_id":  channelID,
		"call_type":   typ,
		"timestamp":   m.clock(),
	})
	m.deps.Logger.Info("call originated",
		"attempt_id", attempt.ID,
		"campaign_id", camp.ID,
		"channel_id", channelID,
		"call_type", typ)
	return attempt, nil
}

// HandleEvent applies one normalized switch event to the attempt it belongs
// to. Events for unknown channels or terminal attempts are dropped.
func (m *Manager) HandleEvent(ctx context.Context, ev telephony.Event) {
	m.mu.Lock()
	attemptID, ok := m.byChannel[ev.ChannelID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ac := m.active[attemptID]
	now := m.clock()

	switch ev.Type {
	case telephony.EventSessionStarted:
		if err := ac.Attempt.MarkRinging(now); err != nil {
			m.mu.Unlock()
			return
		}
		snapshot := ac.Attempt
		m.mu.Unlock()
		m.persist(ctx, snapshot)

	case telephony.EventAnswered:
		already := ac.Attempt.Status == StatusAnswered
		if err := ac.Attempt.MarkAnswered(now); err != nil || already {
			m.mu.Unlock()
			return
		}
		snapshot := ac.Attempt
		m.mu.Unlock()
		m.persist(ctx, snapshot)
		m.publish(ctx, events.TopicCallAnswered, map[string]any{
			"attempt_id":  snapshot.ID,
			"campaign_id": snapshot.CampaignID,
			"agent_id":    snapshot.AgentID,
			"timestamp":   now,
		})
		m.startRecording(ctx, snapshot)

	case telephony.EventHangupRequested, telephony.EventDestroyed:
		// Hangup before answer is a failed dial; hangup on an answered call
		// without an agent disposition is an abandon.
		var err error
		if ac.Attempt.Status == StatusAnswered {
			err = ac.Attempt.MarkAbandoned(now)
		} else {
			err = ac.Attempt.MarkFailed(now)
		}
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.finishLocked(ctx, ac, "")

	default:
		m.mu.Unlock()
	}
}

// EndCall records an agent disposition on an answered call.
func (m *Manager) EndCall(ctx context.Context, attemptID, disposition string, consentCaptured bool) (CallAttempt, error) {
	m.mu.Lock()
	ac, ok := m.active[attemptID]
	if !ok {
		m.mu.Unlock()
		return CallAttempt{}, ErrAttemptNotFound
	}
	if err := ac.Attempt.MarkCompleted(m.clock()); err != nil {
		m.mu.Unlock()
		return CallAttempt{}, err
	}
	ac.Attempt.ConsentCaptured = consentCaptured
	snapshot := m.finishLocked(ctx, ac, disposition)
	return snapshot, nil
}

// AbandonCall force-terminates a ringing or answered call without a
// disposition.
func (m *Manager) AbandonCall(ctx context.Context, attemptID string) (CallAttempt, error) {
	m.mu.Lock()
	ac, ok := m.active[attemptID]
	if !ok {
		m.mu.Unlock()
		return CallAttempt{}, ErrAttemptNotFound
	}
	if err := ac.Attempt.MarkAbandoned(m.clock()); err != nil {
		m.mu.Unlock()
		return CallAttempt{}, err
	}
	snapshot := m.finishLocked(ctx, ac, "")
	return snapshot, nil
}

// finishLocked applies the terminal side effects for a call whose attempt
// was just moved to a terminal state. Called with m.mu held; releases it.
func (m *Manager) finishLocked(ctx context.Context, ac *ActiveCall, disposition string) CallAttempt {
	snapshot := ac.Attempt
	recordingRef := ac.recordingRef
	delete(m.active, snapshot.ID)
	delete(m.byChannel, snapshot.ChannelID)
	m.mu.Unlock()

	m.stopRecording(ctx, recordingRef)
	m.persist(ctx, snapshot)
	m.releaseCap(ctx, snapshot.CampaignID, ac.capHeld)

	// The allocation stays in_progress on completion and abandon; the
	// disposition workflow owns its final state. Only a failed dial, where
	// no one reached the debtor, returns it to the queue.
	switch snapshot.Status {
	case StatusCompleted:
		m.deps.Registry.CallCompleted(snapshot.CampaignID)
		m.publish(ctx, events.TopicCallEnded, map[string]any{
			"attempt_id":       snapshot.ID,
			"campaign_id":      snapshot.CampaignID,
			"agent_id":         snapshot.AgentID,
			"duration_seconds": snapshot.DurationSeconds,
			"disposition":      disposition,
			"timestamp":        snapshot.UpdatedAt,
		})
	case StatusAbandoned:
		m.deps.Registry.CallAbandoned(snapshot.CampaignID)
		m.publish(ctx, events.TopicCallAbandoned, map[string]any{
			"attempt_id":  snapshot.ID,
			"campaign_id": snapshot.CampaignID,
			"agent_id":    snapshot.AgentID,
			"timestamp":   snapshot.UpdatedAt,
		})
	case StatusFailed:
		m.deps.Registry.CallFailed(snapshot.CampaignID)
		m.releaseAllocation(ctx, snapshot.AllocationID)
	}

	m.hangupChannel(ctx, snapshot.ChannelID)
	m.releaseAgent(ctx, snapshot.AgentID)

	m.deps.Logger.Info("call resolved",
		"attempt_id", snapshot.ID,
		"campaign_id", snapshot.CampaignID,
		"status", snapshot.Status,
		"duration_seconds", snapshot.DurationSeconds)
	return snapshot
}

// SweepStale fails attempts stuck non-terminal past the cutoff. Attempts
// still in the active set go through the normal terminal path; orphaned
// rows (for example from a crashed instance) are resolved directly.
func (m *Manager) SweepStale(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := m.deps.Attempts.ListStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("list stale attempts: %w", err)
	}

	swept := 0
	for _, a := range stale {
		m.mu.Lock()
		if ac, ok := m.active[a.ID]; ok {
			now := m.clock()
			var terr error
			if ac.Attempt.Status == StatusAnswered {
				terr = ac.Attempt.MarkAbandoned(now)
			} else {
				terr = ac.Attempt.MarkFailed(now)
			}
			if terr != nil {
				m.mu.Unlock()
				continue
			}
			resolved := m.finishLocked(ctx, ac, "")
			// Nobody will ever disposition a reaped call; free its
			// allocation so the work is not stranded.
			if resolved.Status == StatusAbandoned {
				m.releaseAllocation(ctx, resolved.AllocationID)
			}
			swept++
			continue
		}
		m.mu.Unlock()

		now := m.clock()
		var terr error
		if a.Status == StatusAnswered {
			terr = a.MarkAbandoned(now)
		} else {
			terr = a.MarkFailed(now)
		}
		if terr != nil {
			continue
		}
		m.persist(ctx, a)
		m.releaseAllocation(ctx, a.AllocationID)
		m.releaseAgent(ctx, a.AgentID)
		swept++
	}
	return swept, nil
}

func (m *Manager) acquireCap(ctx context.Context, campaignID string) (bool, error) {
	if m.deps.Redis == nil || m.deps.Config.MaxCallsPerCampaign <= 0 {
		return false, nil
	}
	key := "dialer:inflight:" + campaignID
	ok, err := utils.AcquireConcurrencyCap(ctx, m.deps.Redis, key, m.deps.Config.MaxCallsPerCampaign, m.deps.Config.StaleAfter)
	if err != nil {
		return false, fmt.Errorf("acquire concurrency cap: %w", err)
	}
	if !ok {
		return false, ErrCampaignAtCapacity
	}
	return true, nil
}

func (m *Manager) releaseCap(ctx context.Context, campaignID string, held bool) {
	if !held || m.deps.Redis == nil {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, m.deps.Redis, "dialer:inflight:"+campaignID); err != nil {
		m.deps.Logger.Error("release concurrency cap", "campaign_id", campaignID, "error", err)
	}
}

func (m *Manager) releaseAllocation(ctx context.Context, allocationID string) {
	if err := m.deps.Allocations.Release(ctx, allocationID); err != nil && !errors.Is(err, allocation.ErrNotFound) {
		m.deps.Logger.Error("release allocation", "allocation_id", allocationID, "error", err)
	}
}

func (m *Manager) releaseAgent(ctx context.Context, agentID string) {
	if agentID == "" {
		return
	}
	if _, err := m.deps.Agents.TransitionStatus(ctx, agentID, agent.StatusOnCall, agent.StatusReady); err != nil {
		m.deps.Logger.Error("release agent", "agent_id", agentID, "error", err)
	}
}

// startRecording begins a live recording on the answered channel. Best
// effort: a recording failure never affects the call.
func (m *Manager) startRecording(ctx context.Context, snapshot CallAttempt) {
	ref, err := m.deps.Gateway.StartRecording(ctx, snapshot.ChannelID)
	if err != nil {
		m.deps.Logger.Warn("start recording", "attempt_id", snapshot.ID, "error", err)
		return
	}
	m.mu.Lock()
	if ac, ok := m.active[snapshot.ID]; ok {
		ac.recordingRef = ref
	}
	m.mu.Unlock()
}

func (m *Manager) stopRecording(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := m.deps.Gateway.StopRecording(ctx, ref); err != nil {
		m.deps.Logger.Warn("stop recording", "recording_ref", ref, "error", err)
	}
}

func (m *Manager) hangupChannel(ctx context.Context, channelID string) {
	if channelID == "" {
		return
	}
	if err := m.deps.Gateway.Hangup(ctx, channelID); err != nil {
		m.deps.Logger.Warn("hangup channel", "channel_id", channelID, "error", err)
	}
}

func (m *Manager) persist(ctx context.Context, a CallAttempt) {
	if err := m.deps.Attempts.Update(ctx, a); err != nil {
		m.deps.Logger.Error("persist attempt", "attempt_id", a.ID, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if err := m.deps.Publisher.Publish(ctx, topic, payload); err != nil {
		m.deps.Logger.Error("publish event", "topic", topic, "error", err)
	}
}
