package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/flowd-sh/flowd/config"
	"github.com/flowd-sh/flowd/logger"
)

// JobsCmd lists configured jobs and pipeline edges.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured jobs and pipeline edges",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigPath)
		if err != nil {
			return err
		}
		defer logger.Cleanup()

		source, err := config.LoadJobs(cfg.Jobs.Path, logger.Logger)
		if err != nil {
			return err
		}

		jobs := source.Jobs()
		if len(jobs) == 0 {
			pterm.Info.Printf("No jobs configured in %s\n", cfg.Jobs.Path)
			return nil
		}

		data := pterm.TableData{{"ID", "NAME", "CATEGORY", "RETRIES", "BACKOFF", "TIMEOUT", "COMMAND"}}
		for _, job := range jobs {
			timeout := "-"
			if job.Execution.Timeout > 0 {
				timeout = job.Execution.Timeout.String()
			}
			command := job.Command
			if len(command) > 60 {
				command = command[:60] + "…"
			}
			data = append(data, []string{
				job.ID,
				job.Name,
				job.Category,
				fmt.Sprintf("%d", job.Execution.MaxRetries),
				string(job.Execution.Backoff),
				timeout,
				command,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}

		edges := source.Edges()
		if len(edges) == 0 {
			return nil
		}

		pterm.Println()
		edgeData := pterm.TableData{{"EDGE", "FROM", "TO", "CONDITION"}}
		for _, edge := range edges {
			condition := "legacy"
			if edge.Condition != nil {
				condition = string(edge.Condition.Type)
				if edge.Condition.Pattern != "" {
					condition += " " + edge.Condition.Pattern
				}
			}
			edgeData = append(edgeData, []string{edge.ID, edge.From, edge.To, condition})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(edgeData).Render()
	},
}
