package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/swarm-director/internal/focus"
)

// Stimulate provokes an agent toward a target from outside the arena. It
// reports whether the agent was forced onto the target.
func (s *Simulation) Stimulate(agent focus.AgentID, amount float64, source focus.TargetID) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("stimulus amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	over, err := s.Director.Stimulate(agent, amount, source)
	if err != nil {
		return false, err
	}
	s.collectLocked()
	slog.Info("stimulus intervention", "agent", agent, "source", source, "amount", amount, "override", over)
	return over, nil
}

// DestroyTarget knocks out an outpost, which respawns on the arena's timer.
func (s *Simulation) DestroyTarget(id focus.TargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Arena.DestroyOutpost(id) {
		return fmt.Errorf("target %d not found", id)
	}
	s.collectLocked()
	slog.Info("destroy intervention", "target", id)
	return nil
}

// KillAgent removes a raider and releases its agent.
func (s *Simulation) KillAgent(id focus.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Arena.KillRaider(id) {
		return fmt.Errorf("agent %d not found", id)
	}
	s.collectLocked()
	slog.Info("kill intervention", "agent", id)
	return nil
}
