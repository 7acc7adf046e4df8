package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/flowd-sh/flowd/config"
	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/logger"
)

// HistoryCmd shows recent run history.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

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

		store := engine.NewHistoryStore(database, cfg.History.Retention)
		records, err := store.List(limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			pterm.Info.Println("No run history")
			return nil
		}

		data := pterm.TableData{{"STARTED", "JOB", "STATUS", "TRIGGER", "ATTEMPT", "EXIT", "DURATION", "RUN ID"}}
		for _, rec := range records {
			exit := "-"
			if rec.ExitCode != nil {
				exit = fmt.Sprintf("%d", *rec.ExitCode)
			}
			status := string(rec.Status)
			if rec.AutoFix != nil {
				status += " (auto-fix)"
			}
			data = append(data, []string{
				rec.StartedAt.Format("2006-01-02 15:04:05"),
				rec.JobName,
				status,
				string(rec.Trigger),
				fmt.Sprintf("%d", rec.RetryAttempt),
				exit,
				(time.Duration(rec.DurationMs) * time.Millisecond).String(),
				rec.ID,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	HistoryCmd.Flags().Int("limit", 20, "Maximum number of records to show")
}
