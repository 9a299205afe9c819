package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traitpair/internal/config"
	logging "traitpair/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "traitpair",
		Short: "Pairwise personality perception experiment",
		Long: `traitpair builds trial lists for the pairwise video comparison task,
runs sessions against a simulated participant and eye tracker, and
summarizes recorded sessions.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGenerateCmd(),
		newSimulateCmd(),
		newSummarizeCmd(),
		newSessionsCmd(),
		newValidateCmd(),
	)
	return rootCmd
}

// loadProject reads .env and config/config.yaml under --root and starts the
// file logger. Callers must Sync the returned logger.
func loadProject(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	root, _ := cmd.Flags().GetString("root")
	if err := config.LoadEnv(root); err != nil {
		return nil, nil, err
	}

	boot := logging.NewConsole(cmd.ErrOrStderr())
	cfg, err := config.Load(root, boot)
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.LoggerOptions()
	opts.Console = cmd.ErrOrStderr()
	log, err := logging.Init(root, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
