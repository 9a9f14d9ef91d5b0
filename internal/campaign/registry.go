package campaign

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyActive = errors.New("campaign already active")
	ErrNotActive     = errors.New("campaign not active")
)

// Registry tracks campaigns currently running on this engine instance,
// with their aggregate stats and in-flight call counts.
//
// It is an engine-owned object passed to the components that need it;
// there are no process-wide singletons, so multiple engines (or tests)
// can run isolated registries.
type Registry struct {
	repo  Repository
	clock func() time.Time

	mu     sync.Mutex
	active map[string]*runtime
}

type runtime struct {
	snapshot  Campaign
	startedAt time.Time
	inFlight  int
	stats     Stats
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, clock: time.Now, active: map[string]*runtime{}}
}

// WithClock overrides the registry clock. Tests only.
func (g *Registry) WithClock(clock func() time.Time) *Registry {
	g.clock = clock
	return g
}

// Start loads the campaign snapshot and registers it with zeroed stats.
// The row must exist and be flagged active.
func (g *Registry) Start(ctx context.Context, id string) (Status, error) {
	c, err := g.repo.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if !c.Active {
		return Status{}, ErrNotActive
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[id]; ok {
		return Status{}, ErrAlreadyActive
	}
	rt := &runtime{snapshot: c, startedAt: g.clock()}
	g.active[id] = rt
	return g.statusLocked(id, rt), nil
}

// Stop deregisters the campaign. In-flight calls are not touched; their
// terminal events still resolve through the attempt manager.
func (g *Registry) Stop(ctx context.Context, id string) error {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[id]; !ok {
		return ErrNotActive
	}
	delete(g.active, id)
	return nil
}

// Snapshot returns the cached campaign if it is running.
func (g *Registry) Snapshot(id string) (Campaign, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rt, ok := g.active[id]
	if !ok {
		return Campaign{}, false
	}
	return rt.snapshot, true
}

// Status reports the runtime view. Inactive campaigns report Active=false.
func (g *Registry) Status(id string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	rt, ok := g.active[id]
	if !ok {
		return Status{CampaignID: id, Active: false}
	}
	return g.statusLocked(id, rt)
}

func (g *Registry) statusLocked(id string, rt *runtime) Status {
	return Status{
		CampaignID: id,
		Active:     true,
		Stats:      rt.stats,
		InFlight:   rt.inFlight,
		Uptime:     g.clock().Sub(rt.startedAt),
	}
}

// ActivePredictive lists running campaigns in predictive mode,
// for the pacing controller to iterate each tick.
func (g *Registry) ActivePredictive() []Campaign {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Campaign, 0, len(g.active))
	for _, rt := range g.active {
		if rt.snapshot.DialMode == DialModePredictive {
			out = append(out, rt.snapshot)
		}
	}
	return out
}

// CallStarted bumps the in-flight count for a running campaign.
func (g *Registry) CallStarted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rt, ok := g.active[id]; ok {
		rt.inFlight++
	}
}

// CallCompleted records a normally disposed call.
func (g *Registry) CallCompleted(id string) { g.record(id, func(s *Stats) { s.TotalCalls++; s.AnsweredCalls++; s.CompletedCalls++ }) }

// CallAbandoned records a call that ended without agent disposition.
func (g *Registry) CallAbandoned(id string) { g.record(id, func(s *Stats) { s.TotalCalls++; s.AbandonedCalls++ }) }

// CallFailed records an attempt that never connected.
func (g *Registry) CallFailed(id string) { g.record(id, func(s *Stats) { s.TotalCalls++ }) }

func (g *Registry) record(id string, fn func(*Stats)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// Campaign may have been stopped while the call was in flight;
	// late terminal events are then dropped from the aggregates.
	rt, ok := g.active[id]
	if !ok {
		return
	}
	if rt.inFlight > 0 {
		rt.inFlight--
	}
	fn(&rt.stats)
}
