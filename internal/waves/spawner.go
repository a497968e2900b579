// Package waves paces the agent population. Each wave has a spawn budget that
// is released in randomly sized batches at randomized intervals; the next wave
// only begins once the budget is spent and every agent from the previous one
// is gone.
package waves

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/swarm-director/internal/entropy"
	"github.com/talgya/swarm-director/internal/focus"
)

// SpawnPoint is a named location the factory can place agents at.
type SpawnPoint struct {
	Name string  `json:"name" yaml:"name"`
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
}

// Factory creates agents. Spawn must register the agent before returning so
// the population count seen by the spawner includes it.
type Factory interface {
	Spawn(point SpawnPoint, wave uint32) (focus.AgentID, error)
}

// Population reports the number of active agents.
type Population interface {
	Len() int
}

// Config controls wave cadence and growth.
type Config struct {
	MaxPopulation int
	BatchMin      int
	BatchMax      int
	IntervalMin   float64 // seconds
	IntervalMax   float64
	SpawnsPerWave float64 // budget of the first wave
	Growth        float64 // SpawnsPerWave multiplier per wave
	IntervalScale float64 // IntervalMax multiplier per wave; <1 tightens, >1 widens
	RewardEvery   uint32  // milestone every N waves, 0 = never
}

// Phase is the spawner's state machine position.
type Phase uint8

const (
	PhaseSpawning      Phase = iota // budget remaining
	PhaseAwaitingClear              // budget spent, waiting for population to reach zero
)

func (p Phase) String() string {
	if p == PhaseAwaitingClear {
		return "awaiting_clear"
	}
	return "spawning"
}

// State is the wave bookkeeping. Only the spawner mutates it.
type State struct {
	Wave          uint32  `json:"wave"`
	Remaining     int64   `json:"remaining"`
	SpawnsPerWave float64 `json:"spawns_per_wave"`
	IntervalMin   float64 `json:"interval_min"`
	IntervalMax   float64 `json:"interval_max"`
	Elapsed       float64 `json:"elapsed"`
	Interval      float64 `json:"interval"` // current randomized wait
}

// Result summarises one Advance call.
type Result struct {
	Spawned     []focus.AgentID
	WaveStarted bool
	Milestone   bool
	Wave        uint32
}

// Spawner drives the wave state machine.
type Spawner struct {
	cfg     Config
	points  []SpawnPoint
	factory Factory
	pop     Population
	rng     entropy.Source
	log     *slog.Logger
	state   State
}

// NewSpawner creates a spawner positioned at the start of wave 1. The first
// batch goes out on the first tick.
func NewSpawner(cfg Config, points []SpawnPoint, pop Population, rng entropy.Source, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = entropy.Crypto()
	}
	return &Spawner{
		cfg:    cfg,
		points: points,
		pop:    pop,
		rng:    rng,
		log:    logger,
		state: State{
			Wave:          1,
			Remaining:     waveBudget(cfg.SpawnsPerWave),
			SpawnsPerWave: cfg.SpawnsPerWave,
			IntervalMin:   cfg.IntervalMin,
			IntervalMax:   cfg.IntervalMax,
		},
	}
}

// SetFactory installs the agent factory. Until one is set the spawner idles.
func (s *Spawner) SetFactory(f Factory) {
	s.factory = f
}

// State returns a copy of the wave bookkeeping.
func (s *Spawner) State() State {
	return s.state
}

// Phase returns the current state machine position.
func (s *Spawner) Phase() Phase {
	if s.state.Remaining <= 0 {
		return PhaseAwaitingClear
	}
	return PhaseSpawning
}

// Advance moves the state machine forward by dt seconds.
func (s *Spawner) Advance(dt float64) Result {
	res := Result{Wave: s.state.Wave}
	if len(s.points) == 0 || s.factory == nil {
		return res
	}

	if s.state.Remaining <= 0 {
		if s.pop.Len() > 0 {
			return res
		}
		s.nextWave()
		res.WaveStarted = true
		res.Wave = s.state.Wave
		res.Milestone = s.cfg.RewardEvery > 0 && s.state.Wave%s.cfg.RewardEvery == 0
		return res
	}

	s.state.Elapsed += dt
	if s.state.Elapsed < s.state.Interval || s.pop.Len() >= s.cfg.MaxPopulation {
		return res
	}

	point := s.points[s.rng.Intn(len(s.points))]
	batch := entropy.IntRange(s.rng, s.cfg.BatchMin, s.cfg.BatchMax)
	for i := 0; i < batch; i++ {
		if s.pop.Len() >= s.cfg.MaxPopulation || s.state.Remaining <= 0 {
			break
		}
		id, err := s.factory.Spawn(point, s.state.Wave)
		if err != nil {
			s.log.Warn("spawn failed", "point", point.Name, "wave", s.state.Wave, "error", err)
			break
		}
		s.state.Remaining--
		res.Spawned = append(res.Spawned, id)
	}

	s.state.Elapsed = 0
	s.state.Interval = entropy.Range(s.rng, s.state.IntervalMin, s.state.IntervalMax)
	return res
}

func (s *Spawner) nextWave() {
	scale := s.cfg.IntervalScale
	if scale <= 0 {
		scale = 1
	}
	s.state.IntervalMax = math.Max(s.state.IntervalMin, s.state.IntervalMax*scale)

	growth := s.cfg.Growth
	if growth <= 0 {
		growth = 1
	}
	s.state.SpawnsPerWave *= growth
	s.state.Remaining = waveBudget(s.state.SpawnsPerWave)
	s.state.Wave++

	s.log.Info("wave started",
		"wave", s.state.Wave,
		"spawns", s.state.Remaining,
		"interval_max", fmt.Sprintf("%.2f", s.state.IntervalMax),
	)
}

// waveBudget is the spawn count for a wave. Every wave spawns at least one
// agent, otherwise an empty wave would complete on the tick it starts.
func waveBudget(spawnsPerWave float64) int64 {
	return max(1, int64(math.Floor(spawnsPerWave)))
}
