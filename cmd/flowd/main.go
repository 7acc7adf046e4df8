package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowd-sh/flowd/cmd/flowd/commands"
	"github.com/flowd-sh/flowd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "flowd",
	Short: "flowd - job execution and orchestration engine",
	Long: `flowd - shell job execution and orchestration engine.

flowd runs named shell commands with retry, backoff, and auto-fix
recovery, chains jobs through conditional pipeline edges, schedules
recurring runs, and processes background tasks with live progress
streamed over WebSocket.

Available commands:
  serve   - Start the flowd daemon (scheduler + task queue + event stream)
  run     - Run a single job to completion in the foreground
  jobs    - List configured jobs and pipeline edges
  history - Show recent run history

Examples:
  flowd serve                      # Start daemon with ./flowd.yaml
  flowd run deploy --set env=prod  # One-shot run with an option override
  flowd jobs                       # Show configured jobs
  flowd history --limit 20         # Show the 20 most recent runs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs; serve
		// re-initializes it once the config says whether to emit JSON
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Config file path (default ./flowd.yaml, then ~/.flowd/config.yaml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
