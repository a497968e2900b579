package focus

import (
	"errors"
	"log/slog"
	"math"

	"github.com/talgya/swarm-director/internal/entropy"
)

// BalancerConfig controls the corrective pass.
type BalancerConfig struct {
	Interval       float64 // seconds between passes
	Threshold      float64 // dominance ratio, > 1
	SwitchFraction float64 // share of candidates rerolled per pass
	MaxCandidates  int
}

// Report describes one balancer pass.
type Report struct {
	Dominant    TargetID  `json:"dominant"`
	Overwhelmed bool      `json:"overwhelmed"`
	Candidates  int       `json:"candidates"`
	Rerolled    []AgentID `json:"rerolled,omitempty"`
}

// Balancer periodically checks whether one target holds far more influence
// than every other and, if so, rerolls a random slice of the agents that are
// not on it.
type Balancer struct {
	cfg     BalancerConfig
	alloc   *Allocator
	rng     entropy.Source
	log     *slog.Logger
	elapsed float64
}

// NewBalancer creates a balancer that rerolls through alloc.
func NewBalancer(cfg BalancerConfig, alloc *Allocator, rng entropy.Source, logger *slog.Logger) *Balancer {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = alloc.rng
	}
	return &Balancer{cfg: cfg, alloc: alloc, rng: rng, log: logger}
}

// Advance accumulates dt and runs a pass once the check interval has elapsed.
// The timer holds while no targets are registered.
func (b *Balancer) Advance(dt float64) (Report, bool) {
	if b.alloc.targets.Len() == 0 {
		return Report{}, false
	}
	b.elapsed += dt
	if b.elapsed < b.cfg.Interval {
		return Report{}, false
	}
	b.elapsed = 0
	return b.Balance(), true
}

// Balance runs one corrective pass immediately.
func (b *Balancer) Balance() Report {
	targets := b.alloc.targets.entries
	if targets.len() == 0 {
		return Report{}
	}

	influences := make([]float64, targets.len())
	for i, t := range targets.vals {
		influences[i] = t.Influence
	}
	idx, overwhelmed := Overwhelmed(influences, b.cfg.Threshold)
	rep := Report{Dominant: targets.keys[idx], Overwhelmed: overwhelmed}
	if !overwhelmed {
		return rep
	}

	var candidates []AgentID
	b.alloc.agents.entries.each(func(a *Agent) bool {
		if a.Target != rep.Dominant {
			candidates = append(candidates, a.ID)
		}
		return b.cfg.MaxCandidates <= 0 || len(candidates) < b.cfg.MaxCandidates
	})
	rep.Candidates = len(candidates)
	if len(candidates) == 0 {
		return rep
	}

	switchCount := int(math.Ceil(float64(len(candidates)) * b.cfg.SwitchFraction))
	if switchCount > len(candidates) {
		switchCount = len(candidates)
	}

	for i := 0; i < switchCount; i++ {
		j := b.rng.Intn(len(candidates))
		id := candidates[j]
		candidates = append(candidates[:j], candidates[j+1:]...)

		if _, err := b.alloc.Reroll(id); err != nil && !errors.Is(err, ErrEmptyRegistry) {
			b.log.Warn("balancer reroll failed", "agent", id, "error", err)
			continue
		}
		rep.Rerolled = append(rep.Rerolled, id)
	}

	b.log.Debug("focus rebalanced",
		"dominant", rep.Dominant,
		"candidates", rep.Candidates,
		"rerolled", len(rep.Rerolled),
	)
	return rep
}

// Overwhelmed returns the index of the first maximal influence and whether it
// is at least threshold times every other value. idx is -1 for empty input.
func Overwhelmed(influences []float64, threshold float64) (idx int, overwhelmed bool) {
	if len(influences) == 0 {
		return -1, false
	}
	for i, v := range influences {
		if v > influences[idx] {
			idx = i
		}
	}
	top := influences[idx]
	for i, v := range influences {
		if i == idx {
			continue
		}
		if top < v*threshold {
			return idx, false
		}
	}
	return idx, true
}
