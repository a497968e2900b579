package focus

import (
	"fmt"
	"log/slog"
	"math"
)

// IrritationParams tune how an agent reacts to stimuli.
type IrritationParams struct {
	DecayRate      float64 `json:"decay_rate"`      // level lost per second
	Gain           float64 `json:"gain"`            // multiplier on stimulus amount
	ResetThreshold float64 `json:"reset_threshold"` // below this the override reverts
	ResetEnabled   bool    `json:"reset_enabled"`
}

// IrritationState is the per-agent accumulator.
type IrritationState struct {
	IrritationParams
	Level     float64  `json:"level"` // 0.0–1.0
	PreTarget TargetID `json:"pre_target,omitempty"`
}

// Reversion records an override that ended this tick.
type Reversion struct {
	Agent    AgentID
	Target   TargetID
	Restored bool
}

// Irritation drives stimulus overrides. A fully irritated agent is forced onto
// whatever provoked it; once it calms down it is sent back where it was.
type Irritation struct {
	alloc *Allocator
	log   *slog.Logger
}

// NewIrritation creates the override driver.
func NewIrritation(alloc *Allocator, logger *slog.Logger) *Irritation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Irritation{alloc: alloc, log: logger}
}

// Stimulate feeds a stimulus from source into the agent. It reports whether
// the agent was forced onto source. A stimulus from the target the agent is
// already on is ignored.
func (ir *Irritation) Stimulate(id AgentID, amount float64, source TargetID) (bool, error) {
	agent, ok := ir.alloc.agents.entries.get(id)
	if !ok {
		return false, fmt.Errorf("stimulate agent %d: %w", id, ErrUnregisteredAgent)
	}
	st := agent.Irritation
	if st == nil {
		return false, fmt.Errorf("stimulate agent %d: %w", id, ErrNotIrritable)
	}
	if source == agent.Target {
		return false, nil
	}

	st.Level = clamp01(st.Level + amount*st.Gain)
	if st.Level < 1 {
		return false, nil
	}

	// A second provocation while already overridden keeps the original target.
	stored := false
	if st.PreTarget == NoTarget {
		st.PreTarget = agent.Target
		stored = true
	}
	if err := ir.alloc.ForceAssign(id, source); err != nil {
		if stored {
			st.PreTarget = NoTarget
		}
		return false, err
	}

	ir.log.Debug("agent provoked", "agent", id, "source", source, "previous", st.PreTarget)
	return true, nil
}

// Advance decays every irritated agent by dt and reverts overrides whose level
// has dropped below the reset threshold. The stored target is cleared whether
// or not the reversion succeeds, so a destroyed target is tried exactly once.
func (ir *Irritation) Advance(dt float64) []Reversion {
	var out []Reversion
	ir.alloc.agents.entries.each(func(a *Agent) bool {
		st := a.Irritation
		if st == nil {
			return true
		}
		st.Level = math.Max(0, st.Level-st.DecayRate*dt)

		if !st.ResetEnabled || st.Level >= st.ResetThreshold || st.PreTarget == NoTarget {
			return true
		}
		pre := st.PreTarget
		st.PreTarget = NoTarget
		if pre == a.Target {
			return true
		}

		err := ir.alloc.ForceAssign(a.ID, pre)
		out = append(out, Reversion{Agent: a.ID, Target: pre, Restored: err == nil})
		return true
	})
	return out
}
