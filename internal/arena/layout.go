package arena

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/swarm-director/internal/waves"
)

// Vec is a position on the arena floor.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the euclidean distance to o.
func (v Vec) Dist(o Vec) float64 {
	return math.Hypot(o.X-v.X, o.Y-v.Y)
}

// Toward moves v at most step units toward o.
func (v Vec) Toward(o Vec, step float64) Vec {
	d := v.Dist(o)
	if d <= step || d == 0 {
		return o
	}
	k := step / d
	return Vec{X: v.X + (o.X-v.X)*k, Y: v.Y + (o.Y-v.Y)*k}
}

// Layout is the static geometry of an arena: outpost slots on an inner ring
// and spawn gates on the outer edge.
type Layout struct {
	Slots       []Vec              `json:"slots"`
	SpawnPoints []waves.SpawnPoint `json:"spawn_points"`
}

// Generate places outposts and gates on two noise-jittered rings. The same
// seed always yields the same layout.
func Generate(cfg Config, seed int64) Layout {
	angleNoise := opensimplex.NewNormalized(seed)
	radiusNoise := opensimplex.NewNormalized(seed + 1)

	ring := func(n int, radius float64, row float64) []Vec {
		out := make([]Vec, 0, n)
		if n <= 0 {
			return out
		}
		sector := 2 * math.Pi / float64(n)
		for i := 0; i < n; i++ {
			x := float64(i) * 0.7
			angle := float64(i)*sector + (angleNoise.Eval2(x, row)-0.5)*sector*0.5
			r := radius * (0.85 + 0.3*radiusNoise.Eval2(x, row))
			out = append(out, Vec{X: r * math.Cos(angle), Y: r * math.Sin(angle)})
		}
		return out
	}

	layout := Layout{Slots: ring(cfg.Outposts, cfg.Radius*0.35, 0)}
	for i, p := range ring(cfg.SpawnPoints, cfg.Radius, 3) {
		layout.SpawnPoints = append(layout.SpawnPoints, waves.SpawnPoint{
			Name: fmt.Sprintf("gate-%d", i+1),
			X:    p.X,
			Y:    p.Y,
		})
	}
	return layout
}
