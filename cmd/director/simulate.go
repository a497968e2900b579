package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/config"
	"github.com/talgya/swarm-director/internal/engine"
)

var simulateTicks int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a headless session as fast as possible and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if simulateTicks <= 0 {
			return fmt.Errorf("--ticks must be positive")
		}
		quiet := slog.Default()
		if !verbose {
			quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		sim := simulateHeadless(cfg, uint64(simulateTicks), quiet)
		defer sim.Arena.Close()
		printSummary(cmd.OutOrStdout(), sim)
		return nil
	},
}

// simulateHeadless steps a fresh session n ticks without wall-clock pacing.
func simulateHeadless(cfg config.Config, n uint64, logger *slog.Logger) *engine.Simulation {
	sim := newSimulation(cfg, logger)
	eng := engine.NewEngine(cfg.Session.TickRateHz)
	eng.OnTick = sim.Tick
	for eng.Tick < n {
		eng.Step()
	}
	return sim
}

func printSummary(w io.Writer, sim *engine.Simulation) {
	st := sim.Status()
	fmt.Fprintf(w, "Simulated %s ticks (%s)\n", humanize.Comma(int64(st.Tick)), st.Clock)
	fmt.Fprintf(w, "  wave %d, %s, %d raiders on the field, %d left to spawn\n",
		st.Wave, st.Phase, st.Population, st.Remaining)
	fmt.Fprintf(w, "  spawned %s, allocations %s, rerolls %s over %s balance passes\n",
		humanize.Comma(int64(st.Stats.Spawned)),
		humanize.Comma(int64(st.Stats.Allocations)),
		humanize.Comma(int64(st.Stats.Rerolls)),
		humanize.Comma(int64(st.Stats.Passes)),
	)
	fmt.Fprintf(w, "  kills %s, outposts lost %d, respawned %d, rewards drawn %d\n",
		humanize.Comma(int64(st.Arena.Kills)), st.Arena.Losses, st.Arena.Respawns, len(st.Arena.Rewards))

	targets := sim.Targets()
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	fmt.Fprintln(w, "  outposts:")
	for _, t := range targets {
		fmt.Fprintf(w, "    #%-3d influence %5.1f%%  raiders %-3d health %s\n",
			t.ID, t.Influence*100, t.Agents, humanize.FtoaWithDigits(t.Health, 1))
	}
}

func init() {
	simulateCmd.Flags().IntVarP(&simulateTicks, "ticks", "n", 12000, "Ticks to simulate")
}
