package arena

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsApplyAccumulates(t *testing.T) {
	s := Stats{
		Player: UnitStats{MaxHealth: 100, Damage: 10, FireRate: 1, MoveSpeed: 5},
		Enemy:  UnitStats{MaxHealth: 50, Damage: 4, FireRate: 2, MoveSpeed: 3},
	}
	require.NoError(t, s.Apply(RewardCard{Actor: ActorPlayer, Stat: StatDamage, ChangePercent: 0.3}))
	require.NoError(t, s.Apply(RewardCard{Actor: ActorPlayer, Stat: StatDamage, ChangePercent: 0.2}))
	require.NoError(t, s.Apply(RewardCard{Actor: ActorEnemy, Stat: StatMoveSpeed, ChangePercent: -0.5}))

	p := s.Effective(ActorPlayer)
	assert.InDelta(t, 15, p.Damage, 1e-9)
	assert.Equal(t, 100.0, p.MaxHealth)

	e := s.Effective(ActorEnemy)
	assert.InDelta(t, 1.5, e.MoveSpeed, 1e-9)
	assert.Equal(t, 4.0, e.Damage)
}

func TestStatsNeverNegative(t *testing.T) {
	s := Stats{Enemy: UnitStats{FireRate: 2}}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Apply(RewardCard{Actor: ActorEnemy, Stat: StatFireRate, ChangePercent: -0.9}))
	}
	assert.Equal(t, 0.0, s.Effective(ActorEnemy).FireRate)
	assert.False(t, math.Signbit(s.Effective(ActorEnemy).FireRate))
}

func TestRewardCardValidate(t *testing.T) {
	tests := []struct {
		name string
		card RewardCard
		want error
	}{
		{"ok", RewardCard{Actor: ActorEnemy, Stat: StatMaxHealth, ChangePercent: 0.1}, nil},
		{"no actor", RewardCard{Stat: StatDamage}, ErrUnknownActor},
		{"bad stat", RewardCard{Actor: ActorPlayer, Stat: "bullet_speed"}, ErrUnknownStat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.card.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := RewardCard{Actor: ActorPlayer, Stat: StatDamage, ChangePercent: 1.5}.Validate()
	assert.ErrorContains(t, err, "outside [-1, 1]")

	s := Stats{}
	assert.Error(t, s.Apply(RewardCard{Actor: "ally", Stat: StatDamage}))
	assert.Equal(t, Stats{}, s)
}
