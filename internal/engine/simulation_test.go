package engine

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/swarm-director/internal/arena"
	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/entropy"
	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/waves"
)

func newTestSimulation(t *testing.T) *Simulation {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	acfg := arena.Config{
		Outposts:       3,
		SpawnPoints:    4,
		Radius:         30,
		AttackRange:    4,
		RespawnSeconds: 3,
		StimulusPerHit: 0.5,
		IrritableShare: 1,
		Player:         arena.UnitStats{MaxHealth: 60, Damage: 10, FireRate: 1},
		Enemy:          arena.UnitStats{MaxHealth: 20, Damage: 5, FireRate: 1, MoveSpeed: 8},
	}
	layout := arena.Generate(acfg, 3)
	d := director.New(director.Config{
		TargetInfluence: 1,
		AgentPower:      1,
		Balancer:        focus.BalancerConfig{Interval: 1, Threshold: 1.25, SwitchFraction: 0.3, MaxCandidates: 5},
		Waves: waves.Config{
			MaxPopulation: 12,
			BatchMin:      1,
			BatchMax:      3,
			IntervalMin:   0.2,
			IntervalMax:   0.6,
			SpawnsPerWave: 6,
			Growth:        1.2,
			IntervalScale: 0.95,
			RewardEvery:   2,
		},
		Irritation:        focus.IrritationParams{DecayRate: 0.3, Gain: 1, ResetThreshold: 0.2, ResetEnabled: true},
		IrritationEnabled: true,
	}, layout.SpawnPoints, entropy.NewSeeded(101), logger)
	a := arena.New(acfg, layout, d, entropy.NewSeeded(401), logger)
	t.Cleanup(a.Close)
	return NewSimulation(d, a, 0.05)
}

func TestSimulationCollectsEvents(t *testing.T) {
	sim := newTestSimulation(t)
	sub := sim.Subscribe(64)
	defer sim.Unsubscribe(sub)

	rep := sim.Step(0.05)
	assert.Equal(t, uint64(1), rep.Tick)
	assert.Positive(t, rep.Spawned)

	events, _ := sim.TakePending()
	require.NotEmpty(t, events)
	var kinds []director.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, director.KindSpawn)

	fromStream := 0
	for len(sub.C) > 0 {
		<-sub.C
		fromStream++
	}
	assert.Equal(t, len(events), fromStream)

	more, _ := sim.TakePending()
	assert.Empty(t, more, "pending cleared")
	assert.Len(t, sim.RecentEvents(0), len(events))
	assert.Len(t, sim.RecentEvents(1), 1)
}

func TestSimulationViews(t *testing.T) {
	sim := newTestSimulation(t)
	sim.Step(0.05)

	targets := sim.Targets()
	require.Len(t, targets, 3)
	total := 0
	for _, tv := range targets {
		assert.Equal(t, 60.0, tv.Health)
		assert.NotEqual(t, arena.Vec{}, tv.Pos)
		total += tv.Agents
	}

	agents := sim.Agents()
	assert.Equal(t, len(agents), total, "every agent is on a registered target")
	for _, av := range agents {
		assert.Equal(t, uint32(1), av.Wave)
		assert.Equal(t, 20.0, av.Health)
	}

	st := sim.Status()
	assert.Equal(t, uint64(1), st.Tick)
	assert.Equal(t, "0:00:00", st.Clock)
	assert.Equal(t, 3, st.Arena.Outposts)
	assert.Equal(t, len(agents), st.Population)
	assert.Equal(t, len(sim.Influences()), st.Targets)
}

func TestSimulationBalancePassesArePending(t *testing.T) {
	sim := newTestSimulation(t)
	for i := 0; i < 30; i++ {
		sim.Step(0.05)
	}
	_, passes := sim.TakePending()
	require.Len(t, passes, 1, "one pass per simulated second")
	assert.GreaterOrEqual(t, passes[0].Tick, uint64(20))
	assert.Equal(t, 1, sim.Status().Stats.Passes)
}

func TestRequeueKeepsOrder(t *testing.T) {
	sim := newTestSimulation(t)
	for i := 0; i < 30; i++ {
		sim.Step(0.05)
	}
	events, passes := sim.TakePending()
	require.NotEmpty(t, events)
	require.NotEmpty(t, passes)

	sim.Step(0.05)
	sim.Requeue(events, passes)
	sim.Requeue(nil, nil)

	again, againPasses := sim.TakePending()
	require.GreaterOrEqual(t, len(again), len(events))
	assert.Equal(t, events, again[:len(events)], "requeued events come first")
	for _, e := range again[len(events):] {
		assert.Equal(t, uint64(31), e.Tick)
	}
	assert.Equal(t, passes, againPasses)
	assert.Zero(t, sim.Status().Stats.Dropped)
}

func TestRequeueRespectsBacklogBound(t *testing.T) {
	sim := newTestSimulation(t)
	old := make([]director.Event, maxPendingEvents)
	for i := range old {
		old[i] = director.Event{Tick: uint64(i), Kind: director.KindSpawn}
	}
	sim.Requeue(old, nil)
	sim.Requeue([]director.Event{{Tick: 0, Kind: director.KindMilestone}}, nil)

	events, _ := sim.TakePending()
	require.Len(t, events, maxPendingEvents)
	assert.Equal(t, uint64(0), events[0].Tick, "oldest entry dropped first")
	assert.Equal(t, director.KindSpawn, events[0].Kind)
	assert.Equal(t, 1, sim.Status().Stats.Dropped)
}

func TestInterventions(t *testing.T) {
	sim := newTestSimulation(t)
	sim.Step(0.05)
	agents := sim.Agents()
	require.NotEmpty(t, agents)

	_, err := sim.Stimulate(agents[0].ID, 0, 1)
	assert.Error(t, err)
	_, err = sim.Stimulate(999, 1, 1)
	assert.ErrorIs(t, err, focus.ErrUnregisteredAgent)

	other := focus.TargetID(1)
	if agents[0].Target == other {
		other = 2
	}
	over, err := sim.Stimulate(agents[0].ID, 1, other)
	require.NoError(t, err)
	assert.True(t, over)

	require.NoError(t, sim.DestroyTarget(3))
	assert.Error(t, sim.DestroyTarget(3))
	assert.Equal(t, 1, sim.Status().Arena.PendingRespawns)

	require.NoError(t, sim.KillAgent(agents[0].ID))
	assert.Error(t, sim.KillAgent(agents[0].ID))

	events, _ := sim.TakePending()
	var kinds []director.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, director.KindOverride)
	assert.Contains(t, kinds, director.KindTargetRemoved)
	assert.Contains(t, kinds, director.KindDespawn)
}

func TestSimulationConcurrentReaders(t *testing.T) {
	sim := newTestSimulation(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = sim.Status()
					_ = sim.Targets()
					_ = sim.Agents()
					_ = sim.RecentEvents(10)
				}
			}
		}()
	}
	for i := 0; i < 400; i++ {
		sim.Step(0.05)
	}
	close(stop)
	wg.Wait()

	for _, tv := range sim.Targets() {
		assert.GreaterOrEqual(t, tv.Influence, 0.0)
		assert.LessOrEqual(t, tv.Influence, 1.0)
	}
	assert.LessOrEqual(t, sim.Status().Population, 12)
}
