package engine

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MaxChainDepth caps cascaded pipeline triggers since the originating
// manual or scheduled run, protecting against cycles in the edge set.
const MaxChainDepth = 10

// Runner is the narrow surface PipelineGraph needs from the execution
// engine. Injected at construction to break the mutual dependency
// between the two components.
type Runner interface {
	Run(ctx context.Context, job *Job, trigger TriggerOrigin, values map[string]interface{}, chainDepth, retryAttempt int) (*HistoryRecord, error)
}

// JobSource resolves jobs and edges from the configuration store. The
// graph reads through this interface on every trigger so hot-reloaded
// definitions take effect immediately.
type JobSource interface {
	JobByID(id string) (*Job, bool)
	Edges() []Edge
}

// PipelineGraph evaluates the edge set after each completed run and
// re-invokes the engine for every downstream job whose condition holds.
type PipelineGraph struct {
	runner Runner
	source JobSource
	logger *zap.SugaredLogger
}

// NewPipelineGraph creates a pipeline graph bound to a runner and a job
// source.
func NewPipelineGraph(runner Runner, source JobSource, logger *zap.SugaredLogger) *PipelineGraph {
	return &PipelineGraph{runner: runner, source: source, logger: logger}
}

// TriggerNext fires every qualifying downstream job of the completed
// run. Depth overflow is a soft stop: logged, never an error. Downstream
// runs are fire-and-forget; their failures are logged by the supervising
// goroutine and never propagate to the triggering run.
func (g *PipelineGraph) TriggerNext(ctx context.Context, jobID string, status RunStatus, prev *HistoryRecord, depth int) {
	if depth > MaxChainDepth {
		g.logger.Warnw("Chain depth limit reached, stopping cascade",
			"job_id", jobID, "depth", depth)
		return
	}

	exitCode := 1
	if status == StatusSuccess {
		exitCode = 0
	}
	if prev != nil && prev.ExitCode != nil {
		exitCode = *prev.ExitCode
	}

	for _, edge := range g.source.Edges() {
		if edge.From != jobID {
			continue
		}
		if !g.evaluate(edge, status, prev, exitCode) {
			continue
		}

		target, ok := g.source.JobByID(edge.To)
		if !ok {
			g.logger.Warnw("Edge targets unknown job, skipping",
				"edge_id", edge.ID, "to", edge.To)
			continue
		}

		g.logger.Infow("Pipeline edge qualified, triggering downstream job",
			"from", jobID, "to", target.ID, "edge_id", edge.ID, "depth", depth)

		go g.runDownstream(ctx, target, depth)
	}
}

// runDownstream supervises one fire-and-forget downstream run.
func (g *PipelineGraph) runDownstream(ctx context.Context, target *Job, depth int) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Errorw("Panic in chained job run",
				"job_id", target.ID, "panic", r)
		}
	}()

	if _, err := g.runner.Run(ctx, target, TriggerChained, target.DefaultOptionValues(), depth+1, 0); err != nil {
		g.logger.Warnw("Chained job failed",
			"job_id", target.ID, "depth", depth+1, "error", err)
	}
}

// evaluate decides whether an edge's condition holds for the completed
// run. Invalid onOutput regexes fail closed.
func (g *PipelineGraph) evaluate(edge Edge, status RunStatus, prev *HistoryRecord, exitCode int) bool {
	cond := edge.Condition
	if cond == nil {
		// Legacy untyped shape: trigger gate, then onSuccess==false
		// means "fire regardless of status". Preserved exactly; the
		// intent behind the asymmetry with the typed model is not
		// documented upstream.
		if !edge.LegacyTrigger {
			return false
		}
		return !edge.LegacyOnSuccess || status == StatusSuccess
	}

	switch cond.Type {
	case CondOnSuccess:
		return status == StatusSuccess
	case CondOnFailure:
		return status == StatusFailed
	case CondAlways:
		return true
	case CondOnExitCode:
		return exitCode == cond.Code
	case CondOnOutput:
		if prev == nil || prev.Stdout == "" {
			return false
		}
		switch cond.Match {
		case MatchRegex:
			re, err := regexp.Compile(cond.Pattern)
			if err != nil {
				g.logger.Warnw("Invalid onOutput regex, condition fails closed",
					"edge_id", edge.ID, "pattern", cond.Pattern, "error", err)
				return false
			}
			return re.MatchString(prev.Stdout)
		default:
			return strings.Contains(prev.Stdout, cond.Pattern)
		}
	default:
		return false
	}
}
