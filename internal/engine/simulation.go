package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/swarm-director/internal/arena"
	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/focus"
)

// Backlog bounds.
const (
	maxRecentEvents  = 1000
	maxPendingEvents = 50000
)

// Simulation ties the director and the arena together and guards them for
// concurrent readers. Every method is safe to call from any goroutine.
type Simulation struct {
	mu       sync.RWMutex
	Director *director.Director
	Arena    *arena.Arena
	Session  string

	sub     *director.Subscription
	stream  *director.Bus
	recent  []director.Event
	pending []director.Event
	passes  []BalancePass
	last    director.TickReport
	dt      float64
	stats   SimStats
}

// BalancePass is a balancer pass stamped with its tick.
type BalancePass struct {
	Tick   uint64       `json:"tick"`
	Report focus.Report `json:"report"`
}

// SimStats tracks aggregate session statistics.
type SimStats struct {
	Spawned     int `json:"spawned"`
	Allocations int `json:"allocations"`
	Reversions  int `json:"reversions"`
	Passes      int `json:"passes"`
	Rerolls     int `json:"rerolls"`
	Dropped     int `json:"dropped_events"`
}

// Status is the snapshot served by the status endpoint.
type Status struct {
	director.Status
	Session string        `json:"session,omitempty"`
	Clock   string        `json:"clock"`
	Arena   arena.Summary `json:"arena"`
	Stats   SimStats      `json:"stats"`
}

// TargetView joins a target's influence with its outpost on the field.
type TargetView struct {
	focus.Target
	Pos    arena.Vec `json:"pos"`
	Health float64   `json:"health"`
	Agents int       `json:"agents"`
}

// AgentView joins an agent's assignment with its raider on the field.
type AgentView struct {
	ID        focus.AgentID  `json:"id"`
	Power     float64        `json:"power"`
	Target    focus.TargetID `json:"target"`
	Level     float64        `json:"irritation"`
	PreTarget focus.TargetID `json:"pre_target,omitempty"`
	Wave      uint32         `json:"wave"`
	Pos       arena.Vec      `json:"pos"`
	Health    float64        `json:"health"`
}

// NewSimulation wraps a director and its arena. dt is the simulated length of
// one tick, used for the session clock.
func NewSimulation(d *director.Director, a *arena.Arena, dt float64) *Simulation {
	return &Simulation{
		Director: d,
		Arena:    a,
		sub:      d.Subscribe(4096),
		stream:   director.NewBus(),
		dt:       dt,
	}
}

// Step runs one tick: director early phase, arena, director late phase.
func (s *Simulation) Step(dt float64) director.TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := s.Director.Early(dt)
	s.Arena.Update(dt)
	s.Director.Late(dt, &rep)

	s.stats.Spawned += rep.Spawned
	s.stats.Allocations += rep.Allocated
	s.stats.Reversions += rep.Reverted
	if rep.Balance != nil {
		s.stats.Passes++
		s.stats.Rerolls += len(rep.Balance.Rerolled)
		s.passes = append(s.passes, BalancePass{Tick: rep.Tick, Report: *rep.Balance})
	}
	s.collectLocked()
	s.last = rep
	return rep
}

// Tick is the OnTick callback for an Engine.
func (s *Simulation) Tick(_ uint64, dt float64) {
	s.Step(dt)
}

func (s *Simulation) collectLocked() {
	for {
		select {
		case e := <-s.sub.C:
			s.recent = append(s.recent, e)
			if len(s.pending) < maxPendingEvents {
				s.pending = append(s.pending, e)
			} else {
				s.stats.Dropped++
			}
			s.stream.Publish(e)
		default:
			if len(s.recent) > maxRecentEvents {
				s.recent = append([]director.Event(nil), s.recent[len(s.recent)-maxRecentEvents:]...)
			}
			return
		}
	}
}

// TakePending returns and clears the events and balancer passes collected
// since the last call, for persistence.
func (s *Simulation) TakePending() ([]director.Event, []BalancePass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, passes := s.pending, s.passes
	s.pending, s.passes = nil, nil
	return events, passes
}

// Requeue puts back events and passes taken by TakePending when they could
// not be saved. They go ahead of anything collected since, and the oldest
// events past the backlog bound are dropped.
func (s *Simulation) Requeue(events []director.Event, passes []BalancePass) {
	if len(events) == 0 && len(passes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]director.Event, 0, len(events)+len(s.pending))
	pending = append(append(pending, events...), s.pending...)
	if over := len(pending) - maxPendingEvents; over > 0 {
		pending = pending[over:]
		s.stats.Dropped += over
	}
	s.pending = pending
	s.passes = append(append([]BalancePass(nil), passes...), s.passes...)
}

// Subscribe returns a live feed of events for stream clients.
func (s *Simulation) Subscribe(buffer int) *director.Subscription {
	return s.stream.Subscribe(buffer)
}

// Unsubscribe cancels a live feed.
func (s *Simulation) Unsubscribe(sub *director.Subscription) {
	s.stream.Unsubscribe(sub)
}

// Status returns a consistent snapshot of the session.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.Director.Status()
	return Status{
		Status:  st,
		Session: s.Session,
		Clock:   SimTime(st.Tick, s.dt),
		Arena:   s.Arena.Summary(),
		Stats:   s.stats,
	}
}

// LastReport returns the most recent tick report.
func (s *Simulation) LastReport() director.TickReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Targets returns every registered target in registration order.
func (s *Simulation) Targets() []TargetView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[focus.TargetID]int)
	for _, a := range s.Director.Agents.All() {
		counts[a.Target]++
	}
	ts := s.Director.Targets.All()
	out := make([]TargetView, 0, len(ts))
	for _, t := range ts {
		v := TargetView{Target: t, Agents: counts[t.ID]}
		if o, ok := s.Arena.Outpost(t.ID); ok {
			v.Pos, v.Health = o.Pos, o.Health
		}
		out = append(out, v)
	}
	return out
}

// Influences returns raw target records, for tick logs.
func (s *Simulation) Influences() []focus.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Director.Targets.All()
}

// Agents returns every registered agent in registration order.
func (s *Simulation) Agents() []AgentView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	as := s.Director.Agents.All()
	out := make([]AgentView, 0, len(as))
	for _, a := range as {
		v := AgentView{ID: a.ID, Power: a.Power, Target: a.Target}
		if a.Irritation != nil {
			v.Level, v.PreTarget = a.Irritation.Level, a.Irritation.PreTarget
		}
		if r, ok := s.Arena.Raider(a.ID); ok {
			v.Wave, v.Pos, v.Health = r.Wave, r.Pos, r.Health
		}
		out = append(out, v)
	}
	return out
}

// RecentEvents returns up to n of the latest events, oldest first.
func (s *Simulation) RecentEvents(n int) []director.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	return append([]director.Event(nil), s.recent[len(s.recent)-n:]...)
}

// Report logs a one-line session summary.
func (s *Simulation) Report() {
	st := s.Status()
	slog.Info("session report",
		"tick", st.Tick,
		"clock", st.Clock,
		"wave", st.Wave,
		"phase", st.Phase,
		"population", st.Population,
		"targets", st.Targets,
		"total_influence", fmt.Sprintf("%.3f", st.TotalInfluence),
		"kills", st.Arena.Kills,
		"losses", st.Arena.Losses,
		"rerolls", st.Stats.Rerolls,
	)
}
