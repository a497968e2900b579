package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/config"
	"github.com/talgya/swarm-director/internal/persistence"
)

var (
	historySessions int
	historyEvents   int
	historySession  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sessions and their latest events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := persistence.Open(cfg.Session.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		return printHistory(cmd.OutOrStdout(), db, historySession, historySessions, historyEvents)
	},
}

func printHistory(w io.Writer, db *persistence.DB, session string, sessions, events int) error {
	rows, err := db.Sessions(sessions)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}

	fmt.Fprintln(w, "Sessions:")
	for _, r := range rows {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = humanize.Time(t)
		}
		fmt.Fprintf(w, "  %s  seed %-6d started %-16s tick %-9s wave %-3d %s events, %s balance passes\n",
			r.ID, r.Seed, started, humanize.Comma(int64(r.LastTick)), r.LastWave,
			humanize.Comma(int64(r.Events)), humanize.Comma(int64(r.Balances)))
	}

	if events <= 0 {
		return nil
	}
	if session == "" {
		session = rows[0].ID
		if last, err := db.GetMeta("last_session"); err == nil {
			session = last
		}
	}
	if err := printSessionConfig(w, db, session); err != nil {
		return err
	}
	evs, err := db.RecentEvents(session, events)
	if err != nil {
		return fmt.Errorf("recent events: %w", err)
	}
	fmt.Fprintf(w, "\nLatest events for %s:\n", session)
	for i := len(evs) - 1; i >= 0; i-- {
		e := evs[i]
		fmt.Fprintf(w, "  tick %-9s wave %-3d %-14s", humanize.Comma(int64(e.Tick)), e.Wave, e.Kind)
		if e.Agent != 0 {
			fmt.Fprintf(w, " agent %d", e.Agent)
		}
		if e.Target != 0 {
			fmt.Fprintf(w, " target %d", e.Target)
		}
		if e.Count != 0 {
			fmt.Fprintf(w, " count %d", e.Count)
		}
		if e.Detail != "" {
			fmt.Fprintf(w, " (%s)", e.Detail)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printSessionConfig(w io.Writer, db *persistence.DB, session string) error {
	raw, err := db.SessionConfig(session)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s not found", session)
	}
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return fmt.Errorf("decode session config: %w", err)
	}
	fmt.Fprintf(w, "\nConfig: seed %d, %d outposts, waves of %.1f growing %.2fx, balancer threshold %.2f\n",
		cfg.Session.Seed, cfg.Arena.Outposts, cfg.Waves.SpawnsPerWave, cfg.Waves.Growth, cfg.Balancer.Threshold)
	return nil
}

func init() {
	historyCmd.Flags().IntVar(&historySessions, "sessions", 10, "Sessions to list")
	historyCmd.Flags().IntVar(&historyEvents, "events", 20, "Events to show for the selected session")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Session to show events for (default: last checkpointed)")
}
