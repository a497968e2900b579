package focus

import (
	"fmt"
	"log/slog"

	"github.com/talgya/swarm-director/internal/entropy"
)

// Allocator picks targets for agents by influence-weighted draw and keeps the
// books: selecting a target debits it, releasing one credits it back. It is the
// only code that writes Target.Influence.
type Allocator struct {
	targets *TargetRegistry
	agents  *AgentRegistry
	rng     entropy.Source
	log     *slog.Logger
}

// NewAllocator wires an allocator over both registries.
func NewAllocator(targets *TargetRegistry, agents *AgentRegistry, rng entropy.Source, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = entropy.Crypto()
	}
	return &Allocator{
		targets: targets,
		agents:  agents,
		rng:     rng,
		log:     logger,
	}
}

// Allocate draws a target for the agent, debits it, credits previous (when it
// is still registered) and records the selection as the agent's current target.
//
// With all influence spent the draw falls back to a uniform pick so an agent
// never idles while targets exist.
func (al *Allocator) Allocate(id AgentID, previous TargetID) (TargetID, error) {
	agent, ok := al.agents.entries.get(id)
	if !ok {
		al.log.Warn("unregistered agent requested a target", "agent", id)
		return NoTarget, fmt.Errorf("allocate agent %d: %w", id, ErrUnregisteredAgent)
	}

	n := al.targets.Len()
	if n == 0 {
		return NoTarget, ErrEmptyRegistry
	}

	keys := al.targets.entries.keys
	weights := make([]float64, n)
	total := 0.0
	for i, t := range al.targets.entries.vals {
		weights[i] = t.Influence
		total += t.Influence
	}

	var idx int
	if total <= 0 {
		idx = al.rng.Intn(n)
	} else {
		// Depleted targets are skipped, even on a zero draw, while any
		// other target still has influence.
		idx = pickWeighted(weights, al.rng.Float64()*total)
	}
	selected := keys[idx]

	al.debit(selected, agent.Power)
	al.credit(previous, agent.Power)
	agent.Target = selected

	return selected, nil
}

// ForceAssign moves the agent onto desired, bypassing the weighted draw. The
// current target is credited and desired is debited. Either both happen or
// nothing changes.
func (al *Allocator) ForceAssign(id AgentID, desired TargetID) error {
	if !al.targets.Contains(desired) {
		al.log.Warn("forced assignment to unknown target", "agent", id, "target", desired)
		return fmt.Errorf("force agent %d onto %d: %w", id, desired, ErrInvalidForcedTarget)
	}
	agent, ok := al.agents.entries.get(id)
	if !ok {
		al.log.Warn("forced assignment for unregistered agent", "agent", id, "target", desired)
		return fmt.Errorf("force agent %d onto %d: %w", id, desired, ErrUnregisteredAgent)
	}

	al.credit(agent.Target, agent.Power)
	al.debit(desired, agent.Power)
	agent.Target = desired
	return nil
}

// Reroll gives the agent's current target back and draws a new one.
func (al *Allocator) Reroll(id AgentID) (TargetID, error) {
	agent, ok := al.agents.entries.get(id)
	if !ok {
		al.log.Warn("reroll for unregistered agent", "agent", id)
		return NoTarget, fmt.Errorf("reroll agent %d: %w", id, ErrUnregisteredAgent)
	}
	return al.Allocate(id, agent.Target)
}

// Release credits the agent's last target and removes the agent. Destroyed
// agents must come through here so no debit is ever orphaned.
func (al *Allocator) Release(id AgentID) bool {
	agent, ok := al.agents.entries.get(id)
	if !ok {
		return false
	}
	al.credit(agent.Target, agent.Power)
	return al.agents.remove(id)
}

// debit spends initial×power of the target's influence.
func (al *Allocator) debit(id TargetID, power float64) {
	t, ok := al.targets.entries.get(id)
	if !ok {
		return
	}
	t.Influence = clamp01(t.Influence - t.InitialInfluence*power)
}

// credit refunds initial×power to the target, if it still exists.
func (al *Allocator) credit(id TargetID, power float64) {
	if id == NoTarget {
		return
	}
	t, ok := al.targets.entries.get(id)
	if !ok {
		return
	}
	t.Influence = clamp01(t.Influence + t.InitialInfluence*power)
}

// pickWeighted walks weights accumulating a running sum and returns the first
// index whose running sum reaches r. Non-positive weights carry no mass and are
// never chosen. Rounding that leaves r past the final sum resolves to the last
// positive weight.
func pickWeighted(weights []float64, r float64) int {
	running := 0.0
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		running += w
		if running >= r {
			return i
		}
	}
	return last
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
