// Package config loads director.yaml: session, tuning for every director
// component, the arena and the HTTP API.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/swarm-director/internal/arena"
	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/waves"
)

// Seed offsets keep each random stream in a session independent.
const (
	DirectorSeedOffset = 100
	ArenaSeedOffset    = 400
)

// Config is the whole of director.yaml.
type Config struct {
	Session    Session      `yaml:"session"`
	Allocator  Allocator    `yaml:"allocator"`
	Balancer   Balancer     `yaml:"balancer"`
	Waves      Waves        `yaml:"waves"`
	Irritation Irritation   `yaml:"irritation"`
	Arena      arena.Config `yaml:"arena"`
	API        API          `yaml:"api"`
}

type Session struct {
	Seed            int64  `yaml:"seed"`
	TickRateHz      int    `yaml:"tick_rate_hz"`
	CheckpointTicks int    `yaml:"checkpoint_ticks"`
	DBPath          string `yaml:"db_path"`
	TickLogDir      string `yaml:"tick_log_dir"`
	TickLogEvery    int    `yaml:"tick_log_every"`
}

type Allocator struct {
	TargetInfluence float64 `yaml:"target_influence"`
	AgentPower      float64 `yaml:"agent_power"`
}

type Balancer struct {
	CheckInterval  float64 `yaml:"check_interval"`
	Threshold      float64 `yaml:"threshold"`
	SwitchFraction float64 `yaml:"switch_fraction"`
	MaxCandidates  int     `yaml:"max_candidates"`
}

type Waves struct {
	MaxPopulation int     `yaml:"max_population"`
	BatchMin      int     `yaml:"batch_min"`
	BatchMax      int     `yaml:"batch_max"`
	IntervalMin   float64 `yaml:"interval_min"`
	IntervalMax   float64 `yaml:"interval_max"`
	SpawnsPerWave float64 `yaml:"spawns_per_wave"`
	Growth        float64 `yaml:"growth"`
	IntervalScale float64 `yaml:"interval_scale"`
	RewardEvery   uint32  `yaml:"reward_every"`
}

type Irritation struct {
	Enabled        bool    `yaml:"enabled"`
	DecayRate      float64 `yaml:"decay_rate"`
	Gain           float64 `yaml:"gain"`
	ResetThreshold float64 `yaml:"reset_threshold"`
	ResetEnabled   bool    `yaml:"reset_enabled"`
}

type API struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	RatePerSec  float64  `yaml:"rate_per_sec"`
	RateBurst   int      `yaml:"rate_burst"`
	MaxStreams  int      `yaml:"max_streams"`
	AdminKey    string   `yaml:"-"`
}

// Default returns the stock tuning.
func Default() Config {
	return Config{
		Session: Session{
			Seed:            1,
			TickRateHz:      20,
			CheckpointTicks: 1200,
			DBPath:          "data/director.db",
			TickLogDir:      "data/ticks",
			TickLogEvery:    20,
		},
		Allocator: Allocator{TargetInfluence: 1, AgentPower: 1},
		Balancer: Balancer{
			CheckInterval:  5,
			Threshold:      1.25,
			SwitchFraction: 0.3,
			MaxCandidates:  5,
		},
		Waves: Waves{
			MaxPopulation: 30,
			BatchMin:      1,
			BatchMax:      3,
			IntervalMin:   2,
			IntervalMax:   5,
			SpawnsPerWave: 10,
			Growth:        1.2,
			IntervalScale: 0.95,
			RewardEvery:   3,
		},
		Irritation: Irritation{
			Enabled:        true,
			DecayRate:      0.2,
			Gain:           1,
			ResetThreshold: 0.2,
			ResetEnabled:   true,
		},
		Arena: arena.Config{
			Outposts:       4,
			SpawnPoints:    6,
			Radius:         60,
			AttackRange:    6,
			RespawnSeconds: 20,
			StimulusPerHit: 0.35,
			IrritableShare: 0.5,
			Player:         arena.UnitStats{MaxHealth: 100, Damage: 10, FireRate: 1, MoveSpeed: 0},
			Enemy:          arena.UnitStats{MaxHealth: 30, Damage: 4, FireRate: 0.8, MoveSpeed: 5},
			Rewards: []arena.RewardCard{
				{Description: "Reinforced walls", Actor: arena.ActorPlayer, Stat: arena.StatMaxHealth, ChangePercent: 0.2},
				{Description: "Hair triggers", Actor: arena.ActorPlayer, Stat: arena.StatFireRate, ChangePercent: 0.15},
				{Description: "Hardened raiders", Actor: arena.ActorEnemy, Stat: arena.StatMaxHealth, ChangePercent: 0.25},
				{Description: "Frenzy", Actor: arena.ActorEnemy, Stat: arena.StatMoveSpeed, ChangePercent: 0.2},
				{Description: "Blunted ammunition", Actor: arena.ActorPlayer, Stat: arena.StatDamage, ChangePercent: -0.1},
			},
		},
		API: API{
			Port:       8080,
			RatePerSec: 5,
			RateBurst:  10,
			MaxStreams: 50,
		},
	}
}

// Load reads path over Default, checks it against the embedded schema, then
// applies environment overrides and Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ValidateDocument(raw); err != nil {
		return cfg, fmt.Errorf("director.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("director.yaml: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("director.yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies DIRECTOR_ADMIN_KEY and DIRECTOR_DB.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DIRECTOR_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("DIRECTOR_DB"); v != "" {
		c.Session.DBPath = v
	}
}

// Validate checks rules that span fields or that the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Session.TickRateHz > 0, "session.tick_rate_hz must be positive")
	check(c.Allocator.TargetInfluence > 0 && c.Allocator.TargetInfluence <= 1,
		"allocator.target_influence %.2f outside (0, 1]", c.Allocator.TargetInfluence)
	check(c.Allocator.AgentPower > 0, "allocator.agent_power must be positive")

	check(c.Balancer.CheckInterval > 0, "balancer.check_interval must be positive")
	check(c.Balancer.Threshold > 1, "balancer.threshold %.2f must exceed 1", c.Balancer.Threshold)
	check(c.Balancer.SwitchFraction > 0 && c.Balancer.SwitchFraction <= 1,
		"balancer.switch_fraction %.2f outside (0, 1]", c.Balancer.SwitchFraction)
	check(c.Balancer.MaxCandidates >= 0, "balancer.max_candidates must not be negative")

	w := c.Waves
	check(w.MaxPopulation > 0, "waves.max_population must be positive")
	check(w.BatchMin >= 1 && w.BatchMin <= w.BatchMax,
		"waves.batch_min %d and batch_max %d must satisfy 1 <= min <= max", w.BatchMin, w.BatchMax)
	check(w.IntervalMin >= 0 && w.IntervalMin <= w.IntervalMax,
		"waves.interval_min %.2f and interval_max %.2f must satisfy 0 <= min <= max", w.IntervalMin, w.IntervalMax)
	check(w.SpawnsPerWave >= 1, "waves.spawns_per_wave %.2f must be at least 1", w.SpawnsPerWave)
	check(w.Growth > 0, "waves.growth must be positive")
	check(w.IntervalScale > 0, "waves.interval_scale must be positive")

	ir := c.Irritation
	check(ir.DecayRate >= 0, "irritation.decay_rate must not be negative")
	check(ir.ResetThreshold >= 0 && ir.ResetThreshold <= 1,
		"irritation.reset_threshold %.2f outside [0, 1]", ir.ResetThreshold)

	check(c.Arena.Radius > 0, "arena.radius must be positive")
	check(c.Arena.IrritableShare >= 0 && c.Arena.IrritableShare <= 1,
		"arena.irritable_share %.2f outside [0, 1]", c.Arena.IrritableShare)
	for _, card := range c.Arena.Rewards {
		if err := card.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("arena.rewards: %w", err))
		}
	}

	check(c.API.Port > 0 && c.API.Port < 65536, "api.port %d out of range", c.API.Port)
	return errors.Join(errs...)
}

// TickInterval is the wall-clock duration of one tick at speed 1.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Session.TickRateHz)
}

// TickSeconds is the simulated time covered by one tick.
func (c Config) TickSeconds() float64 {
	return 1 / float64(c.Session.TickRateHz)
}

// DirectorConfig maps the tuning sections onto the director.
func (c Config) DirectorConfig() director.Config {
	return director.Config{
		TargetInfluence: c.Allocator.TargetInfluence,
		AgentPower:      c.Allocator.AgentPower,
		Balancer: focus.BalancerConfig{
			Interval:       c.Balancer.CheckInterval,
			Threshold:      c.Balancer.Threshold,
			SwitchFraction: c.Balancer.SwitchFraction,
			MaxCandidates:  c.Balancer.MaxCandidates,
		},
		Waves: waves.Config{
			MaxPopulation: c.Waves.MaxPopulation,
			BatchMin:      c.Waves.BatchMin,
			BatchMax:      c.Waves.BatchMax,
			IntervalMin:   c.Waves.IntervalMin,
			IntervalMax:   c.Waves.IntervalMax,
			SpawnsPerWave: c.Waves.SpawnsPerWave,
			Growth:        c.Waves.Growth,
			IntervalScale: c.Waves.IntervalScale,
			RewardEvery:   c.Waves.RewardEvery,
		},
		Irritation: focus.IrritationParams{
			DecayRate:      c.Irritation.DecayRate,
			Gain:           c.Irritation.Gain,
			ResetThreshold: c.Irritation.ResetThreshold,
			ResetEnabled:   c.Irritation.ResetEnabled,
		},
		IrritationEnabled: c.Irritation.Enabled,
	}
}
