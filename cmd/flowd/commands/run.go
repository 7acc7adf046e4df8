package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/flowd-sh/flowd/config"
	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
	"github.com/flowd-sh/flowd/logger"
	"github.com/flowd-sh/flowd/notify"
)

// RunCmd runs a single job to completion in the foreground.
var RunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a single job to completion",
	Long: `Run one configured job in the foreground and print its outcome.

Retries and auto-fix recovery apply exactly as they would under the
daemon. Pipeline edges do not cascade from one-shot runs; use the
daemon for chained execution.

Examples:
  flowd run deploy
  flowd run deploy --set env=prod --set dry-run=true`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

var runSetValues []string

func init() {
	RunCmd.Flags().StringArrayVar(&runSetValues, "set", nil, "Override an option value (key=value, repeatable)")
}

func runJob(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return err
	}
	defer logger.Cleanup()

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	source, err := config.LoadJobs(cfg.Jobs.Path, logger.Logger)
	if err != nil {
		return err
	}

	job, ok := source.JobByID(jobID)
	if !ok {
		return errors.NewNotFoundError("job %s", jobID)
	}

	values := job.DefaultOptionValues()
	for _, kv := range runSetValues {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return errors.Newf("invalid --set value %q, expected key=value", kv)
		}
		values[key] = value
	}

	state := engine.NewState(cfg.History.Retention)
	spawner := engine.NewShellSpawner()
	autofix := engine.NewAutoFixEngine(cfg.AutoFixRules(), spawner, logger.Logger)
	historyStore := engine.NewHistoryStore(database, cfg.History.Retention)
	dispatcher := notify.NewDispatcher(cfg.NotifyChannels(), cfg.NotifyRules(), nil, logger.Logger)

	eng := engine.NewEngine(state, spawner, autofix, historyStore, dispatcher, logger.Logger)

	rec, runErr := eng.Run(context.Background(), job, engine.TriggerManual, values, 0, 0)
	if rec == nil {
		return runErr
	}

	printRunResult(rec)
	return runErr
}

func printRunResult(rec *engine.HistoryRecord) {
	duration := time.Duration(rec.DurationMs) * time.Millisecond

	if rec.Status == engine.StatusSuccess {
		pterm.Success.Printf("%s succeeded in %s (run %s)\n", rec.JobName, duration, rec.ID)
	} else {
		pterm.Error.Printf("%s failed after %s (run %s)\n", rec.JobName, duration, rec.ID)
		if rec.Error != "" {
			pterm.Printf("  %s\n", rec.Error)
		}
	}
	if rec.RetryAttempt > 0 {
		pterm.Info.Printf("Final attempt: %d\n", rec.RetryAttempt)
	}
	if rec.AutoFix != nil {
		pterm.Info.Printf("Auto-fix applied: %s (%s)\n", rec.AutoFix.RuleName, rec.AutoFix.Command)
	}

	if rec.Stdout != "" {
		fmt.Print(rec.Stdout)
		if !strings.HasSuffix(rec.Stdout, "\n") {
			fmt.Println()
		}
	}
	if rec.Status != engine.StatusSuccess && rec.Stderr != "" {
		fmt.Print(rec.Stderr)
		if !strings.HasSuffix(rec.Stderr, "\n") {
			fmt.Println()
		}
	}
}
