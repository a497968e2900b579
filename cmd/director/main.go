// Command director runs and inspects swarm director sessions.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/config"
)

var (
	// Global flags
	configPath string
	logJSON    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "director",
	Short: "Swarm director: spread raider waves across outposts",
	Long: `director runs a wave spawner and influence allocator against a procedurally
laid out arena. Raiders are spread across outposts by weighted influence, the
focus balancer breaks up pile-ups, and irritable raiders can be provoked away
from their assignment.

Sessions are recorded to SQLite and served over HTTP and a websocket stream.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(os.Stdout))
		return nil
	},
}

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if logJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads --config, or the defaults when the flag is empty.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/director.yaml", "Config file (empty for built-in defaults)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
