package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/focus"
	"github.com/talgya/swarm-director/internal/persistence/ticklog"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file-or-dir>",
	Short: "Summarize recorded tick logs",
	Long: `replay reads a compressed tick log file, or every tick log in a directory,
and prints wave progress and per-outpost influence over the recorded span.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readTickLogs(args[0])
		if err != nil {
			return err
		}
		printReplay(cmd.OutOrStdout(), ticklog.Summarize(entries))
		return nil
	},
}

func readTickLogs(path string) ([]ticklog.Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return ticklog.ReadFile(path)
	}
	files, err := ticklog.Files(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no tick logs in %s", path)
	}
	var all []ticklog.Entry
	for _, f := range files {
		entries, err := ticklog.ReadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func printReplay(w io.Writer, s ticklog.Summary) {
	if s.Entries == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	fmt.Fprintf(w, "%s snapshots, ticks %s to %s\n",
		humanize.Comma(int64(s.Entries)), humanize.Comma(int64(s.FirstTick)), humanize.Comma(int64(s.LastTick)))
	fmt.Fprintf(w, "  reached wave %d, peak population %d\n", s.MaxWave, s.PeakPopulation)

	ids := make([]focus.TargetID, 0, len(s.MeanInfluence))
	for id := range s.MeanInfluence {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Fprintln(w, "  outposts:")
	for _, id := range ids {
		fmt.Fprintf(w, "    #%-3d mean influence %5.1f%%  depleted in %s snapshots\n",
			id, s.MeanInfluence[id]*100, humanize.Comma(int64(s.Depleted[id])))
	}
}
