package focus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talgya/swarm-director/internal/entropy"
)

// scripted replays fixed draws; exhausted queues return zero.
type scripted struct {
	floats []float64
	ints   []int
}

func (s *scripted) Float64() float64 {
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *scripted) Intn(n int) int {
	if len(s.ints) == 0 || n <= 0 {
		return 0
	}
	v := s.ints[0] % n
	s.ints = s.ints[1:]
	return v
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	targets *TargetRegistry
	agents  *AgentRegistry
	alloc   *Allocator
}

func newFixture(rng entropy.Source) *fixture {
	targets := NewTargetRegistry(1.0)
	agents := NewAgentRegistry(1.0)
	return &fixture{
		targets: targets,
		agents:  agents,
		alloc:   NewAllocator(targets, agents, rng, quietLogger()),
	}
}

func (f *fixture) influence(t *testing.T, id TargetID) float64 {
	t.Helper()
	tg, ok := f.targets.Get(id)
	require.True(t, ok, "target %d missing", id)
	return tg.Influence
}

func (f *fixture) current(t *testing.T, id AgentID) TargetID {
	t.Helper()
	a, ok := f.agents.Get(id)
	require.True(t, ok, "agent %d missing", id)
	return a.Target
}
