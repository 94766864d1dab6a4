package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "banga",
		Short: "banga - timed command bundles for the Methcla synthesis engine",
		Long: `banga drives the node graph of a real-time synthesis engine. It allocates
node and bus ids, encodes graph operations into time-tagged OSC bundles and
sends them to the engine.

Scores are YAML files or Starlark scripts listing cues of graph operations.
The engine runs in-process through one of three backends:
  - loopback: records bundles without producing sound
  - wasm: the engine compiled to WebAssembly, hosted by wazero
  - methcla: libmethcla through cgo (build with -tags methcla)`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newJournalCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
