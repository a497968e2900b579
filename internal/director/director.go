// Package director is the session context that owns the focus registries,
// the allocator, the balancer, irritation handling and the wave spawner, and
// runs them in a fixed two-phase order each tick.
package director

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/swarm-director/internal/entropy"
	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/waves"
)

// Config gathers the tuning for every component.
type Config struct {
	TargetInfluence   float64
	AgentPower        float64
	Balancer          focus.BalancerConfig
	Waves             waves.Config
	Irritation        focus.IrritationParams
	IrritationEnabled bool
}

// Director is one session. It is not safe for concurrent use; hosts that read
// it from other goroutines must serialise access themselves.
type Director struct {
	Targets    *focus.TargetRegistry
	Agents     *focus.AgentRegistry
	Allocator  *focus.Allocator
	Balancer   *focus.Balancer
	Irritation *focus.Irritation
	Waves      *waves.Spawner

	cfg  Config
	bus  *Bus
	log  *slog.Logger
	tick uint64
	last focus.Report
}

// TickReport summarises one Advance.
type TickReport struct {
	Tick        uint64        `json:"tick"`
	Wave        uint32        `json:"wave"`
	Spawned     int           `json:"spawned"`
	Allocated   int           `json:"allocated"`
	Reverted    int           `json:"reverted"`
	WaveStarted bool          `json:"wave_started"`
	Milestone   bool          `json:"milestone"`
	Balanced    bool          `json:"balanced"`
	Balance     *focus.Report `json:"balance,omitempty"`
}

// Status is a point-in-time view of the session.
type Status struct {
	Tick           uint64       `json:"tick"`
	Wave           uint32       `json:"wave"`
	Phase          string       `json:"phase"`
	Remaining      int64        `json:"remaining"`
	Population     int          `json:"population"`
	Targets        int          `json:"targets"`
	TotalInfluence float64      `json:"total_influence"`
	NextInterval   float64      `json:"next_interval"`
	LastBalance    focus.Report `json:"last_balance"`
}

// New creates a director. rng drives every random choice in the session; a
// seeded source makes the whole session reproducible.
func New(cfg Config, points []waves.SpawnPoint, rng entropy.Source, logger *slog.Logger) *Director {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = entropy.Crypto()
	}
	targets := focus.NewTargetRegistry(cfg.TargetInfluence)
	agents := focus.NewAgentRegistry(cfg.AgentPower)
	alloc := focus.NewAllocator(targets, agents, rng, logger)
	return &Director{
		Targets:    targets,
		Agents:     agents,
		Allocator:  alloc,
		Balancer:   focus.NewBalancer(cfg.Balancer, alloc, rng, logger),
		Irritation: focus.NewIrritation(alloc, logger),
		Waves:      waves.NewSpawner(cfg.Waves, points, agents, rng, logger),
		cfg:        cfg,
		bus:        NewBus(),
		log:        logger,
	}
}

// Tick returns the number of ticks run so far.
func (d *Director) Tick() uint64 { return d.tick }

// SetFactory installs the agent factory used by the wave spawner.
func (d *Director) SetFactory(f waves.Factory) {
	d.Waves.SetFactory(f)
}

// Subscribe returns a subscription to session events.
func (d *Director) Subscribe(buffer int) *Subscription {
	return d.bus.Subscribe(buffer)
}

// Unsubscribe cancels a subscription.
func (d *Director) Unsubscribe(sub *Subscription) {
	d.bus.Unsubscribe(sub)
}

// Publish stamps e with the current tick and wave and delivers it. Hosts use
// it for their own events, such as reward cards.
func (d *Director) Publish(e Event) {
	e.Tick = d.tick
	if e.Wave == 0 {
		e.Wave = d.Waves.State().Wave
	}
	d.bus.Publish(e)
}

// RegisterTarget adds a target at full influence. Returns false if it was
// already registered or id is NoTarget.
func (d *Director) RegisterTarget(id focus.TargetID) bool {
	if !d.Targets.Register(id) {
		return false
	}
	d.Publish(Event{Kind: KindTargetAdded, Target: id})
	return true
}

// UnregisterTarget removes a target. Agents aimed at it are reallocated on
// the next tick.
func (d *Director) UnregisterTarget(id focus.TargetID) bool {
	if !d.Targets.Unregister(id) {
		return false
	}
	d.Publish(Event{Kind: KindTargetRemoved, Target: id})
	return true
}

// RegisterAgent adds an unassigned agent. A non-positive power uses the
// configured default. Irritable agents get the configured override
// parameters when irritation is enabled.
func (d *Director) RegisterAgent(id focus.AgentID, power float64, irritable bool) bool {
	if !d.Agents.Register(id, power) {
		return false
	}
	if irritable && d.cfg.IrritationEnabled {
		d.Agents.EnableIrritation(id, d.cfg.Irritation)
	}
	return true
}

// ReleaseAgent credits the agent's target and removes it.
func (d *Director) ReleaseAgent(id focus.AgentID) bool {
	a, ok := d.Agents.Get(id)
	if !ok || !d.Allocator.Release(id) {
		return false
	}
	d.Publish(Event{Kind: KindDespawn, Agent: id, Target: a.Target})
	return true
}

// Stimulate routes a provocation from source to the agent. It reports whether
// the agent was forced onto source.
func (d *Director) Stimulate(id focus.AgentID, amount float64, source focus.TargetID) (bool, error) {
	over, err := d.Irritation.Stimulate(id, amount, source)
	if err != nil {
		return false, err
	}
	if over {
		d.Publish(Event{Kind: KindOverride, Agent: id, Target: source})
	}
	return over, nil
}

// Early runs the first phase of a tick: spawning, irritation decay and reset,
// then allocation for every agent without a live target.
func (d *Director) Early(dt float64) TickReport {
	d.tick++
	rep := TickReport{Tick: d.tick}

	res := d.Waves.Advance(dt)
	rep.Wave = res.Wave
	rep.WaveStarted = res.WaveStarted
	rep.Milestone = res.Milestone
	rep.Spawned = len(res.Spawned)
	if res.WaveStarted {
		d.Publish(Event{Kind: KindWaveStarted, Wave: res.Wave, Count: int(d.Waves.State().Remaining)})
	}
	if res.Milestone {
		d.Publish(Event{Kind: KindMilestone, Wave: res.Wave})
	}
	if len(res.Spawned) > 0 {
		d.Publish(Event{Kind: KindSpawn, Wave: res.Wave, Count: len(res.Spawned)})
	}

	for _, rev := range d.Irritation.Advance(dt) {
		rep.Reverted++
		detail := "restored"
		if !rev.Restored {
			detail = "dropped"
		}
		d.Publish(Event{Kind: KindRevert, Agent: rev.Agent, Target: rev.Target, Detail: detail})
	}

	rep.Allocated = d.allocatePending()
	return rep
}

// Late runs the second phase of a tick: the balancer, so it sees this tick's
// assignments.
func (d *Director) Late(dt float64, rep *TickReport) {
	pass, ran := d.Balancer.Advance(dt)
	if !ran {
		return
	}
	d.last = pass
	if rep != nil {
		rep.Balance = &pass
	}
	if len(pass.Rerolled) == 0 {
		return
	}
	if rep != nil {
		rep.Balanced = true
	}
	d.Publish(Event{
		Kind:   KindBalance,
		Target: pass.Dominant,
		Count:  len(pass.Rerolled),
		Detail: fmt.Sprintf("%d candidates", pass.Candidates),
	})
}

// Advance runs both phases.
func (d *Director) Advance(dt float64) TickReport {
	rep := d.Early(dt)
	d.Late(dt, &rep)
	return rep
}

// Status returns a snapshot of the session.
func (d *Director) Status() Status {
	st := d.Waves.State()
	return Status{
		Tick:           d.tick,
		Wave:           st.Wave,
		Phase:          d.Waves.Phase().String(),
		Remaining:      st.Remaining,
		Population:     d.Agents.Len(),
		Targets:        d.Targets.Len(),
		TotalInfluence: d.Targets.TotalInfluence(),
		NextInterval:   st.Interval,
		LastBalance:    d.last,
	}
}

func (d *Director) allocatePending() int {
	n := 0
	for _, a := range d.Agents.All() {
		if a.Target != focus.NoTarget && d.Targets.Contains(a.Target) {
			continue
		}
		if _, err := d.Allocator.Allocate(a.ID, focus.NoTarget); err != nil {
			if errors.Is(err, focus.ErrEmptyRegistry) {
				break
			}
			d.log.Warn("allocation failed", "agent", a.ID, "error", err)
			continue
		}
		n++
	}
	return n
}
