// Package arena is a small headless battlefield that plays the host roles
// around the director: outposts are targets, raiders are agents. Raiders walk
// to whatever the director assigns and shoot it; outposts shoot back, and each
// hit provokes the raider toward the outpost that fired.
package arena

import (
	"errors"
	"log/slog"
	"math"

	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/entropy"
	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/waves"
)

// Config controls the battlefield.
type Config struct {
	Outposts       int          `json:"outposts" yaml:"outposts"`
	SpawnPoints    int          `json:"spawn_points" yaml:"spawn_points"`
	Radius         float64      `json:"radius" yaml:"radius"`
	AttackRange    float64      `json:"attack_range" yaml:"attack_range"`
	RespawnSeconds float64      `json:"respawn_seconds" yaml:"respawn_seconds"`
	StimulusPerHit float64      `json:"stimulus_per_hit" yaml:"stimulus_per_hit"`
	IrritableShare float64      `json:"irritable_share" yaml:"irritable_share"`
	Player         UnitStats    `json:"player" yaml:"player"`
	Enemy          UnitStats    `json:"enemy" yaml:"enemy"`
	Rewards        []RewardCard `json:"rewards" yaml:"rewards"`
}

// Outpost is a defended position the director can send raiders at.
type Outpost struct {
	ID       focus.TargetID `json:"id"`
	Slot     int            `json:"slot"`
	Pos      Vec            `json:"pos"`
	Health   float64        `json:"health"`
	cooldown float64
}

// Raider is an agent on the field.
type Raider struct {
	ID        focus.AgentID `json:"id"`
	Wave      uint32        `json:"wave"`
	Pos       Vec           `json:"pos"`
	Health    float64       `json:"health"`
	Irritable bool          `json:"irritable"`
	cooldown  float64
}

// Summary counts what has happened on the field.
type Summary struct {
	Outposts        int      `json:"outposts"`
	Raiders         int      `json:"raiders"`
	Kills           int      `json:"kills"`
	Losses          int      `json:"losses"`
	Respawns        int      `json:"respawns"`
	PendingRespawns int      `json:"pending_respawns"`
	Rewards         []string `json:"rewards,omitempty"`
	Stats           Stats    `json:"stats"`
}

type respawn struct {
	slot int
	at   float64
}

// Arena drives outposts and raiders around a director.
type Arena struct {
	cfg    Config
	layout Layout
	dir    *director.Director
	rng    entropy.Source
	log    *slog.Logger
	sub    *director.Subscription

	stats    Stats
	outposts []*Outpost
	raiders  []*Raider
	byRaider map[focus.AgentID]*Raider
	pending  []respawn

	nextTarget focus.TargetID
	nextAgent  focus.AgentID
	clock      float64
	kills      int
	losses     int
	respawns   int
	rewards    []string
}

// New builds the arena, registers one outpost per layout slot and installs
// itself as the director's agent factory.
func New(cfg Config, layout Layout, d *director.Director, rng entropy.Source, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = entropy.Crypto()
	}
	a := &Arena{
		cfg:      cfg,
		layout:   layout,
		dir:      d,
		rng:      rng,
		log:      logger,
		stats:    Stats{Player: cfg.Player, Enemy: cfg.Enemy},
		byRaider: make(map[focus.AgentID]*Raider),
	}
	for slot := range layout.Slots {
		a.raiseOutpost(slot)
	}
	a.sub = d.Subscribe(256)
	d.SetFactory(a)
	return a
}

// Close detaches the arena from the director's event stream.
func (a *Arena) Close() {
	a.dir.Unsubscribe(a.sub)
}

// Spawn implements waves.Factory.
func (a *Arena) Spawn(p waves.SpawnPoint, wave uint32) (focus.AgentID, error) {
	a.nextAgent++
	id := a.nextAgent
	irritable := a.rng.Float64() < a.cfg.IrritableShare
	if !a.dir.RegisterAgent(id, 0, irritable) {
		return 0, errors.New("agent id already registered")
	}
	r := &Raider{
		ID:        id,
		Wave:      wave,
		Pos:       Vec{X: p.X, Y: p.Y},
		Health:    a.stats.Effective(ActorEnemy).MaxHealth,
		Irritable: irritable,
	}
	a.raiders = append(a.raiders, r)
	a.byRaider[id] = r
	return id, nil
}

// Update advances the field by dt seconds. Call it between the director's
// early and late phases.
func (a *Arena) Update(dt float64) {
	a.clock += dt
	a.handleEvents()
	a.respawnDue()
	a.moveRaiders(dt)
	a.defend(dt)
}

// Stats returns the current stat table.
func (a *Arena) Stats() Stats { return a.stats }

// Layout returns the static geometry.
func (a *Arena) Layout() Layout { return a.layout }

// Outposts returns copies of the standing outposts.
func (a *Arena) Outposts() []Outpost {
	out := make([]Outpost, 0, len(a.outposts))
	for _, o := range a.outposts {
		out = append(out, *o)
	}
	return out
}

// Outpost looks up a standing outpost by target id.
func (a *Arena) Outpost(id focus.TargetID) (Outpost, bool) {
	if o := a.outpost(id); o != nil {
		return *o, true
	}
	return Outpost{}, false
}

// Raiders returns copies of the living raiders.
func (a *Arena) Raiders() []Raider {
	out := make([]Raider, 0, len(a.raiders))
	for _, r := range a.raiders {
		out = append(out, *r)
	}
	return out
}

// Raider looks up a living raider.
func (a *Arena) Raider(id focus.AgentID) (Raider, bool) {
	if r, ok := a.byRaider[id]; ok {
		return *r, true
	}
	return Raider{}, false
}

// Summary returns field counters.
func (a *Arena) Summary() Summary {
	return Summary{
		Outposts:        len(a.outposts),
		Raiders:         len(a.raiders),
		Kills:           a.kills,
		Losses:          a.losses,
		Respawns:        a.respawns,
		Rewards:         append([]string(nil), a.rewards...),
		Stats:           a.stats,
		PendingRespawns: len(a.pending),
	}
}

// DestroyOutpost removes an outpost immediately and schedules its respawn.
func (a *Arena) DestroyOutpost(id focus.TargetID) bool {
	for i, o := range a.outposts {
		if o.ID != id {
			continue
		}
		a.outposts = append(a.outposts[:i], a.outposts[i+1:]...)
		a.dir.UnregisterTarget(id)
		a.losses++
		a.pending = append(a.pending, respawn{slot: o.Slot, at: a.clock + a.cfg.RespawnSeconds})
		a.log.Info("outpost destroyed", "target", id, "slot", o.Slot)
		return true
	}
	return false
}

// KillRaider removes a raider and releases its agent.
func (a *Arena) KillRaider(id focus.AgentID) bool {
	if _, ok := a.byRaider[id]; !ok {
		return false
	}
	delete(a.byRaider, id)
	for i, r := range a.raiders {
		if r.ID == id {
			a.raiders = append(a.raiders[:i], a.raiders[i+1:]...)
			break
		}
	}
	a.dir.ReleaseAgent(id)
	a.kills++
	return true
}

func (a *Arena) handleEvents() {
	for {
		select {
		case e, ok := <-a.sub.C:
			if !ok {
				return
			}
			if e.Kind == director.KindMilestone {
				a.drawReward(e.Wave)
			}
		default:
			return
		}
	}
}

func (a *Arena) drawReward(wave uint32) {
	if len(a.cfg.Rewards) == 0 {
		return
	}
	card := a.cfg.Rewards[a.rng.Intn(len(a.cfg.Rewards))]
	if err := a.stats.Apply(card); err != nil {
		a.log.Warn("reward card rejected", "error", err)
		return
	}
	a.rewards = append(a.rewards, card.Description)
	a.log.Info("reward drawn",
		"wave", wave,
		"actor", card.Actor,
		"stat", card.Stat,
		"change", card.ChangePercent,
	)
	a.dir.Publish(director.Event{Kind: director.KindReward, Wave: wave, Detail: card.Description})
}

func (a *Arena) respawnDue() {
	kept := a.pending[:0]
	for _, p := range a.pending {
		if a.clock < p.at {
			kept = append(kept, p)
			continue
		}
		a.raiseOutpost(p.slot)
		a.respawns++
	}
	a.pending = kept
}

func (a *Arena) raiseOutpost(slot int) {
	a.nextTarget++
	o := &Outpost{
		ID:     a.nextTarget,
		Slot:   slot,
		Pos:    a.layout.Slots[slot],
		Health: a.stats.Effective(ActorPlayer).MaxHealth,
	}
	a.outposts = append(a.outposts, o)
	a.dir.RegisterTarget(o.ID)
}

func (a *Arena) outpost(id focus.TargetID) *Outpost {
	for _, o := range a.outposts {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (a *Arena) moveRaiders(dt float64) {
	enemy := a.stats.Effective(ActorEnemy)
	for _, r := range append([]*Raider(nil), a.raiders...) {
		agent, ok := a.dir.Agents.Get(r.ID)
		if !ok {
			continue
		}
		o := a.outpost(agent.Target)
		if o == nil {
			continue
		}
		if r.Pos.Dist(o.Pos) > a.cfg.AttackRange {
			r.Pos = r.Pos.Toward(o.Pos, enemy.MoveSpeed*dt)
			continue
		}
		r.cooldown -= dt
		if r.cooldown > 0 || enemy.FireRate <= 0 {
			continue
		}
		r.cooldown = 1 / enemy.FireRate
		o.Health -= enemy.Damage
		if o.Health <= 0 {
			a.DestroyOutpost(o.ID)
		}
	}
}

func (a *Arena) defend(dt float64) {
	player := a.stats.Effective(ActorPlayer)
	for _, o := range append([]*Outpost(nil), a.outposts...) {
		o.cooldown -= dt
		if o.cooldown > 0 || player.FireRate <= 0 {
			continue
		}
		r := a.nearestRaider(o.Pos)
		if r == nil {
			continue
		}
		o.cooldown = 1 / player.FireRate
		r.Health -= player.Damage
		if r.Health <= 0 {
			a.KillRaider(r.ID)
			continue
		}
		if !r.Irritable {
			continue
		}
		if _, err := a.dir.Stimulate(r.ID, a.cfg.StimulusPerHit, o.ID); err != nil {
			a.log.Debug("stimulus rejected", "agent", r.ID, "source", o.ID, "error", err)
		}
	}
}

func (a *Arena) nearestRaider(from Vec) *Raider {
	var best *Raider
	bestDist := math.Inf(1)
	for _, r := range a.raiders {
		d := from.Dist(r.Pos)
		if d <= a.cfg.AttackRange && d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}
