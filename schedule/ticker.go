package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

// Ticker drives scheduled job execution. It wakes at a fixed interval,
// launches every due schedule through the engine, and logs a status
// line with the next upcoming run and system load.
type Ticker struct {
	store  *Store
	source engine.JobSource
	runner engine.Runner
	state  *engine.State

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastStatusLine  string
}

// TickerConfig contains configuration for the ticker.
type TickerConfig struct {
	Interval time.Duration // how often to check for due schedules
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 1 * time.Second}
}

// NewTicker creates a ticker with a parent context.
func NewTicker(ctx context.Context, store *Store, source engine.JobSource, runner engine.Runner, state *engine.State, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	return &Ticker{
		store:    store,
		source:   source,
		runner:   runner,
		state:    state,
		interval: cfg.Interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   logger.Named("schedule"),
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Scheduler started", "interval", t.interval)
}

// Stop gracefully stops the ticker. In-flight runs continue under the
// engine; only dispatching stops.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Scheduler stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logStatusLine(tickTime)

			if err := t.checkDue(tickTime); err != nil {
				t.logger.Warnw("Scheduler tick error", "error", err)
			}
		}
	}
}

// logStatusLine logs the upcoming run and system load. Repeated
// identical lines are suppressed.
func (t *Ticker) logStatusLine(now time.Time) {
	next, err := t.store.NextDue()
	if err != nil {
		t.logger.Warnw("Failed to get next schedule", "error", err)
		return
	}

	var msg string
	if next == nil || next.NextRunAt == nil {
		msg = "Scheduler - no upcoming runs"
	} else {
		until := next.NextRunAt.Sub(now)
		if until < 0 {
			until = 0
		}
		name := next.JobID
		if job, ok := t.source.JobByID(next.JobID); ok {
			name = job.Name
		}
		msg = fmt.Sprintf("Scheduler - next run '%s' in %s", name, until.Round(time.Second))
	}

	if active := t.state.RunningCount(); active > 0 {
		msg += fmt.Sprintf(", %d jobs active", active)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		msg += fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)",
			float64(vm.Used)/1e9, float64(vm.Total)/1e9, vm.UsedPercent)
	}

	t.mu.Lock()
	changed := msg != t.lastStatusLine
	t.lastStatusLine = msg
	t.mu.Unlock()

	if changed {
		t.logger.Infow(msg)
	}
}

// checkDue launches every due schedule.
func (t *Ticker) checkDue(now time.Time) error {
	due, err := t.store.ListDue(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due schedules")
	}

	for _, sched := range due {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.dispatch(sched, now); err != nil {
			t.logger.Errorw("Failed to dispatch scheduled run",
				"schedule_id", sched.ID, "job_id", sched.JobID, "error", err)
		}
	}
	return nil
}

// dispatch advances the schedule and launches the run in the
// background. The next run time moves forward at dispatch, so a slow
// run cannot stack duplicates behind itself.
func (t *Ticker) dispatch(sched *Schedule, now time.Time) error {
	job, ok := t.source.JobByID(sched.JobID)
	if !ok {
		// Job was removed from configuration; pause rather than fire
		// forever into the void
		t.logger.Warnw("Schedule targets unknown job, pausing",
			"schedule_id", sched.ID, "job_id", sched.JobID)
		return t.store.SetState(sched.ID, StatePaused)
	}

	nextRun := now.Add(time.Duration(sched.IntervalSeconds) * time.Second)
	if err := t.store.MarkDispatched(sched.ID, now, nextRun); err != nil {
		return err
	}

	t.logger.Infow("Dispatching scheduled run",
		"schedule_id", sched.ID, "job_id", job.ID, "next_run_at", nextRun.Format(time.RFC3339))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Errorw("Panic in scheduled run",
					"schedule_id", sched.ID, "job_id", job.ID, "panic", r)
			}
		}()

		rec, err := t.runner.Run(t.ctx, job, engine.TriggerScheduled, job.DefaultOptionValues(), 0, 0)
		if err != nil && !errors.IsAlreadyRunning(err) {
			t.logger.Warnw("Scheduled run failed",
				"schedule_id", sched.ID, "job_id", job.ID, "error", err)
		}
		if rec != nil {
			if err := t.store.RecordResult(sched.ID, rec.ID); err != nil {
				t.logger.Warnw("Failed to record schedule result",
					"schedule_id", sched.ID, "error", err)
			}
		}
	}()
	return nil
}

// Stats returns ticker statistics.
func (t *Ticker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
