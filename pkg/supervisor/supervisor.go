// Package supervisor implements the AgentSupervisor (spec.md §4.8): one
// set of per-(offering, lane) polling tickers, plus optional event-driven
// dispatch and a periodic safety sweep, run concurrently per offering.
//
// Grounded on the teacher's pkg/roster/worker.go (run-once-then-ticker,
// context-cancellable loop) and pkg/escalation/engine.go (ticker plus a
// pub/sub subscription channel handled in the same select).
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/sitebridge/internal/telemetry"
	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/eventbus"
)

// Lane names one of the three reconciliation passes spec.md §4 defines.
type Lane string

const (
	LaneOrders          Lane = "orders"
	LaneMembership      Lane = "membership"
	LaneReport          Lane = "report"
	LaneMembershipSweep Lane = "membership-sweep"
)

// Processor is the minimal shape every reconciliation lane exposes.
type Processor interface {
	ProcessOffering(ctx context.Context) error
}

// MembershipEventProcessor adds the targeted, event-driven entry points
// spec.md §6's dispatchable events map onto.
type MembershipEventProcessor interface {
	Processor
	ProcessResourceByUUID(ctx context.Context, resourceUUID uuid.UUID) error
	ProcessUserRoleChanged(ctx context.Context, userUUID, projectUUID uuid.UUID, granted bool) error
	ProcessProjectUserSync(ctx context.Context, projectUUID uuid.UUID) error
}

// OfferingAgent bundles one offering's configuration with the three
// processors driving its reconciliation lanes.
type OfferingAgent struct {
	Offering   backendapi.Offering
	Orders     Processor
	Membership MembershipEventProcessor
	Report     Processor
}

// LaneStatus is a point-in-time snapshot of one lane's last pass, exposed
// through the admin HTTP server's /debug/offerings endpoint.
type LaneStatus struct {
	LastRun time.Time
	LastErr string
}

// AgentSupervisor runs every configured OfferingAgent concurrently until
// ctx is cancelled.
type AgentSupervisor struct {
	Agents []OfferingAgent
	Bus    eventbus.Bus
	Logger *slog.Logger

	mu     sync.Mutex
	status map[uuid.UUID]map[Lane]LaneStatus
}

func (s *AgentSupervisor) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Status returns a copy of the last-run snapshot for every offering/lane,
// safe for concurrent read by the admin HTTP server.
func (s *AgentSupervisor) Status() map[uuid.UUID]map[Lane]LaneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]map[Lane]LaneStatus, len(s.status))
	for offeringUUID, lanes := range s.status {
		inner := make(map[Lane]LaneStatus, len(lanes))
		for lane, st := range lanes {
			inner[lane] = st
		}
		out[offeringUUID] = inner
	}
	return out
}

func (s *AgentSupervisor) recordStatus(offeringUUID uuid.UUID, lane Lane, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		s.status = make(map[uuid.UUID]map[Lane]LaneStatus)
	}
	lanes, ok := s.status[offeringUUID]
	if !ok {
		lanes = make(map[Lane]LaneStatus)
		s.status[offeringUUID] = lanes
	}
	st := LaneStatus{LastRun: time.Now()}
	if err != nil {
		st.LastErr = err.Error()
	}
	lanes[lane] = st
}

// Run starts every offering's lanes and blocks until ctx is cancelled.
func (s *AgentSupervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, agent := range s.Agents {
		agent := agent
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOffering(ctx, agent)
		}()
	}
	wg.Wait()
	return nil
}

// laneGuard enforces spec.md §9's "overlapping passes of the same lane"
// decision: a slow tick is skipped, not queued, and shared between the
// ticker and any event-driven dispatch that targets the same lane.
type laneGuard struct {
	running atomic.Bool
}

func (g *laneGuard) tryEnter() bool { return g.running.CompareAndSwap(false, true) }
func (g *laneGuard) exit()          { g.running.Store(false) }

func (s *AgentSupervisor) runOffering(ctx context.Context, agent OfferingAgent) {
	membershipGuard := &laneGuard{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLane(ctx, agent.Offering, LaneOrders, &laneGuard{}, agent.Orders.ProcessOffering, agent.Offering.PollOrders)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLane(ctx, agent.Offering, LaneMembership, membershipGuard, agent.Membership.ProcessOffering, agent.Offering.PollMembership)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLane(ctx, agent.Offering, LaneReport, &laneGuard{}, agent.Report.ProcessOffering, agent.Offering.PollReports)
	}()

	if agent.Offering.SafetySweep > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLane(ctx, agent.Offering, LaneMembershipSweep, membershipGuard, agent.Membership.ProcessOffering, agent.Offering.SafetySweep)
		}()
	}

	if agent.Offering.EventDriven && s.Bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runEvents(ctx, agent, membershipGuard)
		}()
	}

	wg.Wait()
}

// runLane runs fn once immediately, then on every tick of interval, until
// ctx is cancelled. A zero interval disables the lane entirely.
func (s *AgentSupervisor) runLane(ctx context.Context, offering backendapi.Offering, lane Lane, guard *laneGuard, fn func(context.Context) error, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.log().Info("lane started", "offering", offering.Name, "lane", lane, "interval", interval)

	tick := func() {
		if !guard.tryEnter() {
			s.log().Warn("lane tick skipped, previous pass still running", "offering", offering.Name, "lane", lane)
			return
		}
		defer guard.exit()
		s.runOnce(ctx, offering, lane, fn)
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log().Info("lane stopped", "offering", offering.Name, "lane", lane)
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (s *AgentSupervisor) runOnce(ctx context.Context, offering backendapi.Offering, lane Lane, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	telemetry.SyncDuration.WithLabelValues(offering.Name, string(lane)).Observe(time.Since(start).Seconds())
	s.recordStatus(offering.UUID, lane, err)
	if err != nil {
		s.log().Error("reconciliation pass failed", "offering", offering.Name, "lane", lane, "error", err)
	}
}

// runEvents subscribes to the offering's event topic and dispatches each
// event to the matching processor entry point (spec.md §6): order-created
// to the OrderProcessor, the other three to the MembershipProcessor. Every
// dispatch holds membershipGuard, shared with the membership poll lane, so
// a dispatched event and a periodic membership pass never run concurrently.
func (s *AgentSupervisor) runEvents(ctx context.Context, agent OfferingAgent, membershipGuard *laneGuard) {
	topic := eventbus.Topic(agent.Offering.UUID)
	events, closeSub, err := s.Bus.Subscribe(ctx, topic)
	if err != nil {
		s.log().Error("subscribing to event topic", "offering", agent.Offering.Name, "topic", topic, "error", err)
		return
	}
	defer closeSub()
	s.log().Info("event dispatch started", "offering", agent.Offering.Name, "topic", topic)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatchEvent(ctx, agent, membershipGuard, ev)
		}
	}
}

func (s *AgentSupervisor) dispatchEvent(ctx context.Context, agent OfferingAgent, membershipGuard *laneGuard, ev eventbus.Event) {
	if !membershipGuard.tryEnter() {
		s.log().Warn("event dropped, membership lane busy", "offering", agent.Offering.Name, "event", ev.Type)
		return
	}
	defer membershipGuard.exit()

	start := time.Now()
	var err error
	switch ev.Type {
	case eventbus.EventOrderCreated:
		err = agent.Orders.ProcessOffering(ctx)
	case eventbus.EventResourceUpdated:
		err = agent.Membership.ProcessResourceByUUID(ctx, ev.ResourceUUID)
	case eventbus.EventUserRoleChanged:
		granted := ev.Granted != nil && *ev.Granted
		err = agent.Membership.ProcessUserRoleChanged(ctx, ev.UserUUID, ev.ProjectUUID, granted)
	case eventbus.EventProjectUserSync:
		err = agent.Membership.ProcessProjectUserSync(ctx, ev.ProjectUUID)
	default:
		s.log().Warn("unknown event type, ignoring", "offering", agent.Offering.Name, "event", ev.Type)
		return
	}
	telemetry.SyncDuration.WithLabelValues(agent.Offering.Name, "event:"+string(ev.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log().Error("event dispatch failed", "offering", agent.Offering.Name, "event", ev.Type, "error", err)
	}
}
