package director

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/swarm-director/internal/entropy"
	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/waves"
)

type testFactory struct {
	d    *Director
	next focus.AgentID
}

func (f *testFactory) Spawn(p waves.SpawnPoint, wave uint32) (focus.AgentID, error) {
	f.next++
	f.d.RegisterAgent(f.next, 0, true)
	return f.next, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() Config {
	return Config{
		TargetInfluence: 1,
		AgentPower:      0.4,
		Balancer:        focus.BalancerConfig{Interval: 1, Threshold: 1.25, SwitchFraction: 0.3, MaxCandidates: 5},
		Waves: waves.Config{
			MaxPopulation: 30,
			BatchMin:      2,
			BatchMax:      3,
			IntervalMin:   0.5,
			IntervalMax:   1,
			SpawnsPerWave: 6,
			Growth:        1.25,
			IntervalScale: 0.9,
			RewardEvery:   2,
		},
		Irritation:        focus.IrritationParams{DecayRate: 0.5, Gain: 1, ResetThreshold: 0.2, ResetEnabled: true},
		IrritationEnabled: true,
	}
}

func newDirector(cfg Config, seed int64, points ...waves.SpawnPoint) *Director {
	d := New(cfg, points, entropy.NewSeeded(seed), quiet())
	d.SetFactory(&testFactory{d: d})
	return d
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case e := <-sub.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []Event) []Kind {
	out := make([]Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestEarlyPhaseAllocatesSpawnedAgents(t *testing.T) {
	d := newDirector(testConfig(), 1, waves.SpawnPoint{Name: "gate"})
	d.RegisterTarget(1)
	d.RegisterTarget(2)

	rep := d.Advance(0.016)
	require.GreaterOrEqual(t, rep.Spawned, 2)
	assert.Equal(t, rep.Spawned, rep.Allocated)
	for _, a := range d.Agents.All() {
		assert.True(t, d.Targets.Contains(a.Target), "agent %d unassigned", a.ID)
		require.NotNil(t, a.Irritation)
	}
	assert.Equal(t, uint64(1), d.Tick())
}

func TestStaleTargetIsReallocated(t *testing.T) {
	d := newDirector(testConfig(), 2)
	d.RegisterTarget(1)
	d.RegisterTarget(2)
	d.RegisterAgent(5, 1, false)
	require.NoError(t, d.Allocator.ForceAssign(5, 1))

	require.True(t, d.UnregisterTarget(1))
	rep := d.Advance(0.1)
	assert.Equal(t, 1, rep.Allocated)
	a, _ := d.Agents.Get(5)
	assert.Equal(t, focus.TargetID(2), a.Target)

	tg, _ := d.Targets.Get(2)
	assert.Equal(t, 0.0, tg.Influence)
}

func TestAllocationWaitsForTargets(t *testing.T) {
	d := newDirector(testConfig(), 3)
	d.RegisterAgent(1, 1, false)

	rep := d.Advance(0.1)
	assert.Zero(t, rep.Allocated)
	a, _ := d.Agents.Get(1)
	assert.Equal(t, focus.NoTarget, a.Target)

	d.RegisterTarget(4)
	rep = d.Advance(0.1)
	assert.Equal(t, 1, rep.Allocated)
}

func TestBalancerRunsInLatePhase(t *testing.T) {
	d := newDirector(testConfig(), 4)
	sub := d.Subscribe(64)
	for id := focus.TargetID(1); id <= 3; id++ {
		d.RegisterTarget(id)
	}
	for id := focus.AgentID(1); id <= 4; id++ {
		d.RegisterAgent(id, 0.9, false)
		dest := focus.TargetID(2)
		if id%2 == 0 {
			dest = 3
		}
		require.NoError(t, d.Allocator.ForceAssign(id, dest))
	}

	rep := d.Advance(0.5)
	assert.Nil(t, rep.Balance, "interval not reached")

	rep = d.Advance(0.5)
	require.NotNil(t, rep.Balance)
	assert.True(t, rep.Balanced)
	assert.Equal(t, focus.TargetID(1), rep.Balance.Dominant)
	assert.Len(t, rep.Balance.Rerolled, 2, "ceil(4 * 0.3)")
	assert.Equal(t, focus.TargetID(1), d.Status().LastBalance.Dominant)

	events := drain(sub)
	last := events[len(events)-1]
	assert.Equal(t, KindBalance, last.Kind)
	assert.Equal(t, 2, last.Count)
	assert.Equal(t, uint64(2), last.Tick)
}

func TestMilestoneIsPublished(t *testing.T) {
	cfg := testConfig()
	cfg.Waves.SpawnsPerWave = 0.5
	cfg.Waves.Growth = 1
	d := newDirector(cfg, 5, waves.SpawnPoint{Name: "gate"})
	sub := d.Subscribe(16)

	rep := d.Advance(0.1)
	require.True(t, rep.WaveStarted)
	require.True(t, rep.Milestone)

	events := drain(sub)
	assert.Equal(t, []Kind{KindWaveStarted, KindMilestone}, kinds(events))
	assert.Equal(t, uint32(2), events[1].Wave)
}

func TestStimulateOverridesThenReverts(t *testing.T) {
	cfg := testConfig()
	cfg.Balancer.Interval = 100
	d := newDirector(cfg, 6)
	sub := d.Subscribe(16)
	d.RegisterTarget(1)
	d.RegisterTarget(2)
	require.True(t, d.RegisterAgent(9, 0.5, true))
	require.NoError(t, d.Allocator.ForceAssign(9, 1))

	over, err := d.Stimulate(9, 1, 2)
	require.NoError(t, err)
	require.True(t, over)
	a, _ := d.Agents.Get(9)
	assert.Equal(t, focus.TargetID(2), a.Target)

	// 1.0 decays below 0.2 after 1.7 s at 0.5/s.
	d.Advance(1)
	a, _ = d.Agents.Get(9)
	assert.Equal(t, focus.TargetID(2), a.Target)
	rep := d.Advance(0.7)
	assert.Equal(t, 1, rep.Reverted)
	a, _ = d.Agents.Get(9)
	assert.Equal(t, focus.TargetID(1), a.Target)

	var got []Kind
	for _, e := range drain(sub) {
		if e.Kind == KindOverride || e.Kind == KindRevert {
			got = append(got, e.Kind)
		}
	}
	assert.Equal(t, []Kind{KindOverride, KindRevert}, got)
}

func TestStimulateErrors(t *testing.T) {
	d := newDirector(testConfig(), 7)
	d.RegisterTarget(1)
	d.RegisterAgent(1, 1, false)

	_, err := d.Stimulate(1, 1, 1)
	assert.ErrorIs(t, err, focus.ErrNotIrritable)
	_, err = d.Stimulate(2, 1, 1)
	assert.ErrorIs(t, err, focus.ErrUnregisteredAgent)

	cfg := testConfig()
	cfg.IrritationEnabled = false
	d = newDirector(cfg, 7)
	d.RegisterAgent(1, 1, true)
	a, _ := d.Agents.Get(1)
	assert.Nil(t, a.Irritation, "irritation disabled in config")
}

func TestReleaseAgentCreditsAndPublishes(t *testing.T) {
	d := newDirector(testConfig(), 8)
	sub := d.Subscribe(8)
	d.RegisterTarget(1)
	d.RegisterAgent(1, 0.5, false)
	d.Advance(0.1)

	require.True(t, d.ReleaseAgent(1))
	assert.False(t, d.ReleaseAgent(1))
	tg, _ := d.Targets.Get(1)
	assert.Equal(t, 1.0, tg.Influence)

	events := drain(sub)
	last := events[len(events)-1]
	assert.Equal(t, Event{Tick: 1, Kind: KindDespawn, Wave: 1, Agent: 1, Target: 1}, last)
}

func TestSeededSessionsAreReproducible(t *testing.T) {
	run := func() (Status, []focus.Target) {
		d := newDirector(testConfig(), 42, waves.SpawnPoint{Name: "a"}, waves.SpawnPoint{Name: "b"})
		for id := focus.TargetID(1); id <= 4; id++ {
			d.RegisterTarget(id)
		}
		for i := 0; i < 400; i++ {
			d.Advance(0.05)
			// Kill the oldest agent every few ticks so waves keep turning over.
			if i%7 == 0 {
				if all := d.Agents.All(); len(all) > 0 {
					d.ReleaseAgent(all[0].ID)
				}
			}
		}
		return d.Status(), d.Targets.All()
	}
	s1, t1 := run()
	s2, t2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, t1, t2)
	assert.Greater(t, s1.Wave, uint32(1))
}

func TestInfluenceBoundedUnderLoad(t *testing.T) {
	d := newDirector(testConfig(), 9, waves.SpawnPoint{Name: "a"})
	for id := focus.TargetID(1); id <= 3; id++ {
		d.RegisterTarget(id)
	}
	rng := entropy.NewSeeded(10)
	next := focus.TargetID(4)
	for i := 0; i < 2000; i++ {
		d.Advance(0.05)
		switch rng.Intn(10) {
		case 0:
			if all := d.Agents.All(); len(all) > 0 {
				d.ReleaseAgent(all[rng.Intn(len(all))].ID)
			}
		case 1:
			if all := d.Targets.All(); len(all) > 1 {
				d.UnregisterTarget(all[rng.Intn(len(all))].ID)
			}
			d.RegisterTarget(next)
			next++
		case 2:
			all, tgs := d.Agents.All(), d.Targets.All()
			if len(all) > 0 && len(tgs) > 0 {
				_, _ = d.Stimulate(all[rng.Intn(len(all))].ID, 0.6, tgs[rng.Intn(len(tgs))].ID)
			}
		}
		for _, tg := range d.Targets.All() {
			require.GreaterOrEqual(t, tg.Influence, 0.0)
			require.LessOrEqual(t, tg.Influence, 1.0)
		}
		require.LessOrEqual(t, d.Agents.Len(), 30)
	}
}
