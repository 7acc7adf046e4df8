package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/errors"
)

// Notifier receives lifecycle notifications for terminal run outcomes.
// Implementations own their delivery failures; the engine never sees
// them.
type Notifier interface {
	JobSucceeded(ctx context.Context, job *Job, rec *HistoryRecord)
	JobFailed(ctx context.Context, job *Job, rec *HistoryRecord)
}

// ChainTrigger is the narrow surface the engine needs from the pipeline
// graph. Bound after construction because the graph itself needs the
// engine as its Runner.
type ChainTrigger interface {
	TriggerNext(ctx context.Context, jobID string, status RunStatus, prev *HistoryRecord, depth int)
}

// Engine runs one job instance to completion: builds the command, spawns
// it, enforces the timeout, classifies the outcome, applies auto-fix and
// retry policy, records history, and hands terminal outcomes to the
// notifier and the pipeline graph.
type Engine struct {
	state    *State
	spawner  Spawner
	autofix  *AutoFixEngine
	history  *HistoryStore // optional persistence
	notifier Notifier      // optional
	chain    ChainTrigger  // optional, bound via BindChain
	logger   *zap.SugaredLogger
}

// NewEngine creates an execution engine. history and notifier may be
// nil; the chain trigger is bound separately once the pipeline graph
// exists.
func NewEngine(state *State, spawner Spawner, autofix *AutoFixEngine, history *HistoryStore, notifier Notifier, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		state:    state,
		spawner:  spawner,
		autofix:  autofix,
		history:  history,
		notifier: notifier,
		logger:   logger.Named("engine"),
	}
}

// BindChain attaches the pipeline graph. Construct the graph with this
// engine as its Runner, then bind it here.
func (e *Engine) BindChain(chain ChainTrigger) {
	e.chain = chain
}

// RetryDelay computes the wait before the given attempt (1-based) using
// the configured backoff strategy.
func RetryDelay(cfg ExecutionConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch cfg.Backoff {
	case BackoffLinear:
		return cfg.RetryDelay * time.Duration(attempt)
	case BackoffExponential:
		return cfg.RetryDelay * time.Duration(1<<(attempt-1))
	default:
		return cfg.RetryDelay
	}
}

// Run executes one job instance and returns its terminal history record.
// Retries and auto-fix re-runs happen inside this call; the returned
// record is always the final attempt's. A run rejected for a duplicate
// concurrent handle creates no history record.
//
// Side effects per terminal outcome: exactly one notification dispatch
// and exactly one pipeline trigger. Intermediate retry and auto-fix
// attempts produce additional history records but neither notify nor
// cascade.
func (e *Engine) Run(ctx context.Context, job *Job, trigger TriggerOrigin, values map[string]interface{}, chainDepth, retryAttempt int) (*HistoryRecord, error) {
	handle := &RunningHandle{StartedAt: time.Now()}
	if err := e.state.Acquire(job.ID, trigger, handle); err != nil {
		e.logger.Warnw("Rejected duplicate run", "job_id", job.ID, "trigger", trigger)
		return nil, err
	}

	command := BuildCommand(job, values)
	rec := NewHistoryRecord(job, trigger, retryAttempt)
	handle.HistoryID = rec.ID
	handle.Command = command

	e.state.AppendHistory(rec)
	e.persist(rec)

	e.logger.Infow("Job starting",
		"job_id", job.ID,
		"trigger", trigger,
		"retry_attempt", retryAttempt,
		"chain_depth", chainDepth,
		"command", command)

	proc, err := e.spawner.Spawn(ctx, command, nil)
	if err != nil {
		// Spawn failures are terminal immediately: no retry, no auto-fix
		e.state.Release(job.ID)
		rec.Finalize(StatusFailed, nil, err.Error())
		e.persist(rec)
		e.finishFailed(ctx, job, rec, chainDepth)
		return rec, err
	}
	handle.setKill(proc.Kill)

	var timedOut atomic.Bool
	var timer *time.Timer
	if job.Execution.Timeout > 0 {
		timer = time.AfterFunc(job.Execution.Timeout, func() {
			timedOut.Store(true)
			e.logger.Warnw("Job timed out, terminating process",
				"job_id", job.ID, "timeout", job.Execution.Timeout)
			proc.Kill()
		})
	}

	// Stream output into both the live handle and the history record
	for chunk := range proc.Output() {
		handle.AppendOutput(chunk.Stream, chunk.Data)
	}
	result := <-proc.Done()
	if timer != nil {
		timer.Stop()
	}

	rec.Stdout, rec.Stderr = handle.Output()
	// Handle leaves the running table exactly once, on this attempt's
	// terminal transition
	e.state.Release(job.ID)

	if result.Code == 0 && !timedOut.Load() && result.Err == nil {
		rec.Finalize(StatusSuccess, &result.Code, "")
		e.persist(rec)
		e.logger.Infow("Job succeeded",
			"job_id", job.ID, "duration_ms", rec.DurationMs, "retry_attempt", retryAttempt)

		e.dispatch(func() {
			if e.notifier != nil {
				e.notifier.JobSucceeded(ctx, job, rec)
			}
		})
		if e.chain != nil {
			e.chain.TriggerNext(ctx, job.ID, StatusSuccess, rec, chainDepth)
		}
		return rec, nil
	}

	// Failure classification
	var runErr error
	if timedOut.Load() {
		runErr = errors.Wrapf(errors.ErrTimeout, "job %s exceeded %s", job.ID, job.Execution.Timeout)
	} else if result.Err != nil {
		runErr = errors.Wrapf(result.Err, "job %s", job.ID)
	} else {
		runErr = errors.Newf("job %s exited with code %d", job.ID, result.Code)
	}
	rec.Finalize(StatusFailed, &result.Code, runErr.Error())
	e.persist(rec)

	e.logger.Warnw("Job attempt failed",
		"job_id", job.ID,
		"exit_code", result.Code,
		"timed_out", timedOut.Load(),
		"retry_attempt", retryAttempt,
		"max_retries", job.Execution.MaxRetries)

	// Auto-fix: at most once per logical invocation, only on the very
	// first failure (never re-entered from a fix-triggered run)
	if retryAttempt == 0 && trigger != TriggerAutoFix && e.autofix != nil {
		if match, ok := e.autofix.Detect(rec.Stdout, rec.Stderr); ok {
			// Annotation is the one permitted mutation of a terminal record
			rec.AutoFix = &AutoFixNote{RuleName: match.Rule.Name, Command: match.Command}
			e.persist(rec)

			if fixErr := e.autofix.Apply(ctx, match); fixErr == nil {
				return e.Run(ctx, job, TriggerAutoFix, values, chainDepth, 0)
			}
			e.logger.Warnw("Auto-fix failed, falling back to retry policy",
				"job_id", job.ID, "rule", match.Rule.Name)
		}
	}

	// Retry with backoff
	if retryAttempt < job.Execution.MaxRetries {
		delay := RetryDelay(job.Execution, retryAttempt+1)
		e.logger.Infow("Scheduling retry",
			"job_id", job.ID,
			"next_attempt", retryAttempt+1,
			"delay", delay,
			"backoff", job.Execution.Backoff)

		select {
		case <-ctx.Done():
			return rec, errors.Wrapf(ctx.Err(), "job %s cancelled before retry", job.ID)
		case <-time.After(delay):
		}
		return e.Run(ctx, job, TriggerRetry, values, chainDepth, retryAttempt+1)
	}

	// Terminal failure
	e.logger.Errorw("Job failed",
		"job_id", job.ID, "retry_attempt", retryAttempt, "error", runErr)
	e.finishFailed(ctx, job, rec, chainDepth)
	return rec, runErr
}

// finishFailed performs the one-time terminal failure side effects.
func (e *Engine) finishFailed(ctx context.Context, job *Job, rec *HistoryRecord, chainDepth int) {
	e.dispatch(func() {
		if e.notifier != nil {
			e.notifier.JobFailed(ctx, job, rec)
		}
	})
	if e.chain != nil {
		e.chain.TriggerNext(ctx, job.ID, StatusFailed, rec, chainDepth)
	}
}

// dispatch runs a side effect in a supervised goroutine so delivery
// failures can neither crash nor block the run.
func (e *Engine) dispatch(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Errorw("Panic in notification dispatch", "panic", r)
			}
		}()
		fn()
	}()
}

// persist writes the record through to the history store, if one is
// configured. Persistence problems are logged, never raised.
func (e *Engine) persist(rec *HistoryRecord) {
	if e.history == nil {
		return
	}
	if err := e.history.Save(rec); err != nil {
		e.logger.Warnw("Failed to persist history record",
			"history_id", rec.ID, "error", err)
	}
}
