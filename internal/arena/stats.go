package arena

import (
	"errors"
	"fmt"
	"math"
)

// Actor is the side a reward card affects.
type Actor string

const (
	ActorPlayer Actor = "player" // outposts
	ActorEnemy  Actor = "enemy"  // raiders
)

// Stat names a modifiable unit stat.
type Stat string

const (
	StatMaxHealth Stat = "max_health"
	StatDamage    Stat = "damage"
	StatFireRate  Stat = "fire_rate"
	StatMoveSpeed Stat = "move_speed"
)

var (
	ErrUnknownActor = errors.New("unknown actor")
	ErrUnknownStat  = errors.New("unknown stat")
)

// UnitStats are the per-side combat values. FireRate is shots per second.
type UnitStats struct {
	MaxHealth float64 `json:"max_health" yaml:"max_health"`
	Damage    float64 `json:"damage" yaml:"damage"`
	FireRate  float64 `json:"fire_rate" yaml:"fire_rate"`
	MoveSpeed float64 `json:"move_speed" yaml:"move_speed"`
}

// RewardCard is a risk or reward drawn at a wave milestone. ChangePercent is
// a fraction: -0.2 weakens the stat by 20%, 0.3 strengthens it by 30%.
type RewardCard struct {
	Description   string  `json:"description" yaml:"description"`
	Actor         Actor   `json:"actor" yaml:"actor"`
	Stat          Stat    `json:"stat" yaml:"stat"`
	ChangePercent float64 `json:"change_percent" yaml:"change_percent"`
}

// Validate checks that the card names a known actor and stat.
func (c RewardCard) Validate() error {
	if c.Actor != ActorPlayer && c.Actor != ActorEnemy {
		return fmt.Errorf("card %q: %w %q", c.Description, ErrUnknownActor, c.Actor)
	}
	switch c.Stat {
	case StatMaxHealth, StatDamage, StatFireRate, StatMoveSpeed:
	default:
		return fmt.Errorf("card %q: %w %q", c.Description, ErrUnknownStat, c.Stat)
	}
	if c.ChangePercent < -1 || c.ChangePercent > 1 {
		return fmt.Errorf("card %q: change_percent %.2f outside [-1, 1]", c.Description, c.ChangePercent)
	}
	return nil
}

// Stats holds base values per side and the boosts accumulated from cards.
type Stats struct {
	Player      UnitStats `json:"player"`
	Enemy       UnitStats `json:"enemy"`
	PlayerBoost UnitStats `json:"player_boost"`
	EnemyBoost  UnitStats `json:"enemy_boost"`
}

// Effective returns base × (1 + boost) for the side, never negative.
func (s Stats) Effective(a Actor) UnitStats {
	base, boost := s.Player, s.PlayerBoost
	if a == ActorEnemy {
		base, boost = s.Enemy, s.EnemyBoost
	}
	scale := func(v, b float64) float64 { return math.Max(0, v*(1+b)) }
	return UnitStats{
		MaxHealth: scale(base.MaxHealth, boost.MaxHealth),
		Damage:    scale(base.Damage, boost.Damage),
		FireRate:  scale(base.FireRate, boost.FireRate),
		MoveSpeed: scale(base.MoveSpeed, boost.MoveSpeed),
	}
}

// Apply adds the card's change to the matching boost.
func (s *Stats) Apply(c RewardCard) error {
	if err := c.Validate(); err != nil {
		return err
	}
	boost := &s.PlayerBoost
	if c.Actor == ActorEnemy {
		boost = &s.EnemyBoost
	}
	switch c.Stat {
	case StatMaxHealth:
		boost.MaxHealth += c.ChangePercent
	case StatDamage:
		boost.Damage += c.ChangePercent
	case StatFireRate:
		boost.FireRate += c.ChangePercent
	case StatMoveSpeed:
		boost.MoveSpeed += c.ChangePercent
	}
	return nil
}
