package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/flowd-sh/flowd/config"
	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
	"github.com/flowd-sh/flowd/logger"
	"github.com/flowd-sh/flowd/notify"
	"github.com/flowd-sh/flowd/schedule"
	"github.com/flowd-sh/flowd/stream"
	"github.com/flowd-sh/flowd/task"
	"github.com/flowd-sh/flowd/version"
)

// ServeCmd starts the flowd daemon.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server", "start"},
	Short:   "Start the flowd daemon",
	Long: `Start the flowd daemon in foreground mode.

The daemon will:
- Load jobs and pipeline edges, hot-reloading on file change
- Start the schedule ticker for recurring runs
- Start the task queue worker pool
- Stream run and task events over WebSocket at /ws
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runServe,
}

var serveAddr string

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Server.LogJSON {
		if err := logger.Initialize(true); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}
	defer logger.Cleanup()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	source, err := config.LoadJobs(cfg.Jobs.Path, logger.Logger)
	if err != nil {
		return err
	}

	watcher, err := config.NewJobsWatcher(source, logger.Logger)
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub(logger.Logger)

	state := engine.NewState(cfg.History.Retention)
	spawner := engine.NewShellSpawner()
	autofix := engine.NewAutoFixEngine(cfg.AutoFixRules(), spawner, logger.Logger)
	historyStore := engine.NewHistoryStore(database, cfg.History.Retention)
	dispatcher := notify.NewDispatcher(cfg.NotifyChannels(), cfg.NotifyRules(), hub, logger.Logger)

	eng := engine.NewEngine(state, spawner, autofix, historyStore, dispatcher, logger.Logger)
	graph := engine.NewPipelineGraph(eng, source, logger.Logger.Named("pipeline"))
	eng.BindChain(graph)

	queue := task.NewQueue(database, hub, cfg.Tasks.Workers, logger.Logger)
	queue.Registry().Register(task.NewCommandHandler(spawner, logger.Logger))
	queue.Registry().Register(task.NewAnalysisHandler(cfg.Analysis.CLI, cfg.Analysis.Model, spawner, logger.Logger))
	queue.Start(ctx)

	schedStore := schedule.NewStore(database)
	ticker := schedule.NewTicker(ctx, schedStore, source, eng, state,
		schedule.TickerConfig{Interval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second},
		logger.Logger)
	ticker.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := &http.Server{Addr: addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	printServeBanner(cfg, addr, len(source.Jobs()), len(source.Edges()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		ticker.Stop()
		queue.Stop()
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan struct{})
		go func() {
			// Reverse order of startup: stop dispatching new work first,
			// then take down the transport
			ticker.Stop()
			queue.Stop()
			cancel()
			hub.Shutdown()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
			pterm.Success.Println("flowd stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// printServeBanner prints the user-friendly startup message.
func printServeBanner(cfg *config.Config, addr string, jobs, edges int) {
	green := "\033[32m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s┌─ flowd ─────────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Listening: %s (WebSocket at /ws)\n", green, reset, addr)
	fmt.Printf("%s│%s Database:  %s\n", green, reset, cfg.Database.Path)
	fmt.Printf("%s│%s Jobs:      %d jobs, %d edges (%s)\n", green, reset, jobs, edges, cfg.Jobs.Path)
	fmt.Printf("%s│%s Workers:   %d task workers\n", green, reset, cfg.Tasks.Workers)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)
	fmt.Printf("\n💡 Press Ctrl+C to stop\n\n")
}
