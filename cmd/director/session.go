package main

import (
	"log/slog"

	"github.com/talgya/swarm-director/internal/arena"
	"github.com/talgya/swarm-director/internal/config"
	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/engine"
	"github.com/talgya/swarm-director/internal/entropy"
)

// newSimulation lays out the arena and assembles a seeded session. The same
// config always yields the same session.
func newSimulation(cfg config.Config, logger *slog.Logger) *engine.Simulation {
	seed := cfg.Session.Seed
	layout := arena.Generate(cfg.Arena, seed)

	d := director.New(cfg.DirectorConfig(), layout.SpawnPoints,
		entropy.NewSeeded(seed+config.DirectorSeedOffset), logger)
	a := arena.New(cfg.Arena, layout, d,
		entropy.NewSeeded(seed+config.ArenaSeedOffset), logger)

	logger.Info("arena ready",
		"seed", seed,
		"outposts", len(a.Outposts()),
		"spawn_points", len(layout.SpawnPoints),
		"radius", cfg.Arena.Radius,
	)
	return engine.NewSimulation(d, a, cfg.TickSeconds())
}
