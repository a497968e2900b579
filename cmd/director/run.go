package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/api"
	"github.com/talgya/swarm-director/internal/engine"
	"github.com/talgya/swarm-director/internal/persistence"
	"github.com/talgya/swarm-director/internal/persistence/ticklog"
)

var (
	runPort  int
	runSpeed float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a live session with the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runPort > 0 {
			cfg.API.Port = runPort
		}

		// ── Database ──────────────────────────────────────────────────────
		if err := os.MkdirAll(filepath.Dir(cfg.Session.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := persistence.Open(cfg.Session.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Session.DBPath)

		session, err := db.StartSession(cfg.Session.Seed, cfg)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}

		// ── Simulation ────────────────────────────────────────────────────
		sim := newSimulation(cfg, slog.Default())
		sim.Session = session
		defer sim.Arena.Close()

		ticks := ticklog.NewWriter(cfg.Session.TickLogDir)
		defer func() {
			if err := ticks.Close(); err != nil {
				slog.Error("tick log close failed", "error", err)
			}
		}()

		eng := engine.NewEngine(cfg.Session.TickRateHz)
		eng.CheckpointTicks = uint64(cfg.Session.CheckpointTicks)
		eng.SetSpeed(runSpeed)

		every := uint64(cfg.Session.TickLogEvery)
		eng.OnTick = func(tick uint64, dt float64) {
			sim.Tick(tick, dt)
			if every > 0 && tick%every == 0 {
				writeTickLog(ticks, sim)
			}
		}
		eng.OnCheckpoint = func(tick uint64) {
			checkpoint(db, sim)
			sim.Report()
		}

		// ── HTTP API ──────────────────────────────────────────────────────
		if cfg.API.AdminKey == "" {
			slog.Warn("DIRECTOR_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		srv := api.New(sim, eng, cfg.API)
		srv.Start()

		// ── Start ─────────────────────────────────────────────────────────
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("\nSession %s: %d outposts, %d spawn gates, seed %d.\n",
			session, len(sim.Targets()), cfg.Arena.SpawnPoints, cfg.Session.Seed)
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
		fmt.Println("Starting session... (Ctrl+C to stop)")

		eng.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}

		// Final save on shutdown.
		slog.Info("final save...")
		checkpoint(db, sim)
		sim.Report()
		fmt.Println("Session stopped. Events saved.")
		return nil
	},
}

// checkpoint flushes pending events and balancer passes to the database.
// On failure they go back to the simulation for the next attempt.
func checkpoint(db *persistence.DB, sim *engine.Simulation) {
	events, passes := sim.TakePending()
	st := sim.Status()
	balances := make([]persistence.Balance, len(passes))
	for i, p := range passes {
		balances[i] = persistence.Balance{Tick: p.Tick, Report: p.Report}
	}
	err := db.Checkpoint(persistence.Checkpoint{
		Session:  sim.Session,
		Tick:     st.Tick,
		Wave:     st.Wave,
		Events:   events,
		Balances: balances,
	})
	if err != nil {
		sim.Requeue(events, passes)
		slog.Error("checkpoint failed", "error", err, "events", len(events), "balances", len(passes))
	}
}

func writeTickLog(w *ticklog.Writer, sim *engine.Simulation) {
	st := sim.Status()
	err := w.Write(ticklog.Entry{
		Tick:       st.Tick,
		Wave:       st.Wave,
		Population: st.Population,
		Remaining:  st.Remaining,
		Targets:    ticklog.FromTargets(sim.Influences()),
	})
	if err != nil {
		slog.Error("tick log write failed", "tick", st.Tick, "error", err)
	}
}

func init() {
	runCmd.Flags().IntVarP(&runPort, "port", "p", 0, "HTTP port (overrides config)")
	runCmd.Flags().Float64Var(&runSpeed, "speed", 1, "Initial speed multiplier (0 starts paused)")
}
