package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/swarm-director/internal/entropy"
)

func TestAllocateUnregisteredAgent(t *testing.T) {
	f := newFixture(&scripted{})
	f.targets.Register(1)

	got, err := f.alloc.Allocate(42, NoTarget)
	require.ErrorIs(t, err, ErrUnregisteredAgent)
	assert.Equal(t, NoTarget, got)
	assert.Equal(t, 1.0, f.influence(t, 1))
}

func TestAllocateEmptyRegistry(t *testing.T) {
	f := newFixture(&scripted{})
	f.agents.Register(1, 1)

	got, err := f.alloc.Allocate(1, NoTarget)
	require.ErrorIs(t, err, ErrEmptyRegistry)
	assert.Equal(t, NoTarget, got)
	assert.Equal(t, NoTarget, f.current(t, 1))
}

func TestAllocateDebitsSelectionAndCreditsPrevious(t *testing.T) {
	// total = 2.0; draws 0.1*2 = 0.2 -> target 1, then 0.9*total -> target 2.
	f := newFixture(&scripted{floats: []float64{0.1, 0.9}})
	f.targets.Register(1)
	f.targets.Register(2)
	f.agents.Register(7, 0.5)

	first, err := f.alloc.Allocate(7, NoTarget)
	require.NoError(t, err)
	require.Equal(t, TargetID(1), first)
	assert.InDelta(t, 0.5, f.influence(t, 1), 1e-9)
	assert.Equal(t, TargetID(1), f.current(t, 7))

	second, err := f.alloc.Allocate(7, first)
	require.NoError(t, err)
	require.Equal(t, TargetID(2), second)
	assert.InDelta(t, 1.0, f.influence(t, 1), 1e-9, "previous target credited")
	assert.InDelta(t, 0.5, f.influence(t, 2), 1e-9)
	assert.Equal(t, TargetID(2), f.current(t, 7))
}

func TestAllocateSkipsVanishedPrevious(t *testing.T) {
	f := newFixture(&scripted{})
	f.targets.Register(1)
	f.agents.Register(1, 1)

	got, err := f.alloc.Allocate(1, 77)
	require.NoError(t, err)
	assert.Equal(t, TargetID(1), got)
	assert.Equal(t, 0.0, f.influence(t, 1))
}

func TestDebitCreditRoundTrip(t *testing.T) {
	f := newFixture(&scripted{})
	f.targets.Register(1)
	f.agents.Register(1, 0.3)
	f.agents.Register(2, 0.3)

	_, err := f.alloc.Allocate(1, NoTarget)
	require.NoError(t, err)
	_, err = f.alloc.Allocate(2, NoTarget)
	require.NoError(t, err)
	require.InDelta(t, 0.4, f.influence(t, 1), 1e-9)

	require.True(t, f.alloc.Release(2))
	assert.InDelta(t, 0.7, f.influence(t, 1), 1e-9)
	require.True(t, f.alloc.Release(1))
	assert.InDelta(t, 1.0, f.influence(t, 1), 1e-9)
	assert.False(t, f.alloc.Release(1))
	assert.Equal(t, 0, f.agents.Len())
}

func TestAllocateLivenessWhenDepleted(t *testing.T) {
	f := newFixture(entropy.NewSeeded(3))
	f.targets.Register(1)
	f.targets.Register(2)
	for id := AgentID(1); id <= 3; id++ {
		f.agents.Register(id, 1)
	}

	_, err := f.alloc.Allocate(1, NoTarget)
	require.NoError(t, err)
	_, err = f.alloc.Allocate(2, NoTarget)
	require.NoError(t, err)
	require.Equal(t, 0.0, f.targets.TotalInfluence())

	got, err := f.alloc.Allocate(3, NoTarget)
	require.NoError(t, err)
	assert.Contains(t, []TargetID{1, 2}, got)
}

func TestAllocateNeverPicksDepletedTarget(t *testing.T) {
	f := newFixture(&scripted{floats: []float64{0, 0}})
	f.targets.Register(1)
	f.targets.Register(2)
	f.agents.Register(1, 1)
	f.agents.Register(2, 0.5)

	got, err := f.alloc.Allocate(1, NoTarget)
	require.NoError(t, err)
	require.Equal(t, TargetID(1), got)
	require.Equal(t, 0.0, f.influence(t, 1))

	got, err = f.alloc.Allocate(2, NoTarget)
	require.NoError(t, err)
	assert.Equal(t, TargetID(2), got, "zero draw lands on the first target with influence")
	assert.InDelta(t, 0.5, f.influence(t, 2), 1e-9)
}

func TestPickWeightedTieBreak(t *testing.T) {
	w := []float64{0.5, 0.5}
	assert.Equal(t, 0, pickWeighted(w, 0))
	assert.Equal(t, 0, pickWeighted(w, 0.5), "first to reach the threshold wins")
	assert.Equal(t, 1, pickWeighted(w, 0.6))
	assert.Equal(t, 1, pickWeighted([]float64{0, 0.4}, 0), "zero weight never selected")
	assert.Equal(t, 1, pickWeighted([]float64{0.3, 0.2, 0}, 0.9), "overshoot resolves to last positive")
}

func TestPickWeightedDistribution(t *testing.T) {
	rng := entropy.NewSeeded(11)
	weights := []float64{3, 1}
	const trials = 20000
	hits := 0
	for i := 0; i < trials; i++ {
		if pickWeighted(weights, rng.Float64()*4) == 0 {
			hits++
		}
	}
	assert.InDelta(t, 0.75, float64(hits)/trials, 0.015)
}

func TestAllocateDistributionAcrossFreshInstances(t *testing.T) {
	rng := entropy.NewSeeded(5)
	const trials = 10000
	hits := 0
	for i := 0; i < trials; i++ {
		f := newFixture(rng)
		f.targets.Register(1)
		f.targets.Register(2)
		f.agents.Register(100, 0.25)
		f.agents.Register(101, 0.75)
		f.agents.Register(1, 1)
		require.NoError(t, f.alloc.ForceAssign(100, 1))
		require.NoError(t, f.alloc.ForceAssign(101, 2))

		got, err := f.alloc.Allocate(1, NoTarget)
		require.NoError(t, err)
		if got == 1 {
			hits++
		}
	}
	assert.InDelta(t, 0.75, float64(hits)/trials, 0.02)
}

func TestForceAssign(t *testing.T) {
	f := newFixture(&scripted{})
	f.targets.Register(1)
	f.targets.Register(2)
	f.agents.Register(1, 0.5)

	require.NoError(t, f.alloc.ForceAssign(1, 1))
	require.InDelta(t, 0.5, f.influence(t, 1), 1e-9)

	require.NoError(t, f.alloc.ForceAssign(1, 2))
	assert.InDelta(t, 1.0, f.influence(t, 1), 1e-9)
	assert.InDelta(t, 0.5, f.influence(t, 2), 1e-9)
	assert.Equal(t, TargetID(2), f.current(t, 1))
}

func TestForceAssignFailuresAreAtomic(t *testing.T) {
	f := newFixture(&scripted{})
	f.targets.Register(1)
	f.agents.Register(1, 0.5)
	require.NoError(t, f.alloc.ForceAssign(1, 1))

	err := f.alloc.ForceAssign(1, 9)
	require.ErrorIs(t, err, ErrInvalidForcedTarget)
	assert.InDelta(t, 0.5, f.influence(t, 1), 1e-9)
	assert.Equal(t, TargetID(1), f.current(t, 1))

	err = f.alloc.ForceAssign(2, 1)
	require.ErrorIs(t, err, ErrUnregisteredAgent)
	assert.InDelta(t, 0.5, f.influence(t, 1), 1e-9)
}

func TestRerollReturnsInfluence(t *testing.T) {
	f := newFixture(&scripted{floats: []float64{0, 0.99}})
	f.targets.Register(1)
	f.targets.Register(2)
	f.agents.Register(1, 1)

	_, err := f.alloc.Allocate(1, NoTarget)
	require.NoError(t, err)
	got, err := f.alloc.Reroll(1)
	require.NoError(t, err)
	assert.Equal(t, TargetID(2), got)
	assert.Equal(t, 1.0, f.influence(t, 1))
	assert.Equal(t, 0.0, f.influence(t, 2))

	_, err = f.alloc.Reroll(50)
	require.ErrorIs(t, err, ErrUnregisteredAgent)
}

func TestInfluenceStaysBounded(t *testing.T) {
	rng := entropy.NewSeeded(99)
	f := newFixture(rng)
	nextTarget, nextAgent := TargetID(1), AgentID(1)

	check := func() {
		for _, tg := range f.targets.All() {
			require.GreaterOrEqual(t, tg.Influence, 0.0)
			require.LessOrEqual(t, tg.Influence, 1.0)
		}
	}

	for step := 0; step < 5000; step++ {
		agents := f.agents.All()
		targets := f.targets.All()
		switch rng.Intn(6) {
		case 0:
			f.targets.Register(nextTarget)
			nextTarget++
		case 1:
			if len(targets) > 0 {
				f.targets.Unregister(targets[rng.Intn(len(targets))].ID)
			}
		case 2:
			f.agents.Register(nextAgent, 0.1+rng.Float64()*2)
			nextAgent++
		case 3:
			if len(agents) > 0 {
				a := agents[rng.Intn(len(agents))]
				_, _ = f.alloc.Allocate(a.ID, a.Target)
			}
		case 4:
			if len(agents) > 0 && len(targets) > 0 {
				_ = f.alloc.ForceAssign(agents[rng.Intn(len(agents))].ID, targets[rng.Intn(len(targets))].ID)
			}
		case 5:
			if len(agents) > 0 {
				f.alloc.Release(agents[rng.Intn(len(agents))].ID)
			}
		}
		check()
	}
}
