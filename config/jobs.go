package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

// jobsFile is the on-disk shape of the jobs/edges definition file.
type jobsFile struct {
	Jobs  []jobWire  `json:"jobs"`
	Edges []edgeWire `json:"edges"`
}

// jobWire is one job definition as stored on disk. Durations are
// carried in milliseconds.
type jobWire struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Command   string          `json:"command"`
	Category  string          `json:"category"`
	Options   []engine.Option `json:"options"`
	Execution executionWire   `json:"execution"`
}

type executionWire struct {
	TimeoutMs    int64  `json:"timeoutMs"`
	MaxRetries   int    `json:"maxRetries"`
	RetryDelayMs int64  `json:"retryDelayMs"`
	Backoff      string `json:"backoff"`
}

// edgeWire distinguishes the typed condition shape from the legacy
// trigger/onSuccess boolean pair. Pointer fields tell presence apart
// from false.
type edgeWire struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Condition *engine.Condition `json:"condition"`
	Trigger   *bool             `json:"trigger"`
	OnSuccess *bool             `json:"onSuccess"`
}

// JobSource holds the loaded jobs and edges. Implements
// engine.JobSource; Reload swaps the whole definition set atomically so
// hot reloads never expose a half-parsed state.
type JobSource struct {
	path   string
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	jobs  map[string]*engine.Job
	order []string
	edges []engine.Edge
}

// LoadJobs reads and validates the jobs file.
func LoadJobs(path string, logger *zap.SugaredLogger) (*JobSource, error) {
	s := &JobSource{
		path:   path,
		logger: logger.Named("config"),
		jobs:   make(map[string]*engine.Job),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the jobs file. On any parse or validation error the
// previously loaded definitions stay in effect.
func (s *JobSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read jobs file %s", s.path)
	}

	var file jobsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "failed to parse jobs file %s: %v", s.path, err)
	}

	jobs, order, err := buildJobs(file.Jobs)
	if err != nil {
		return err
	}
	edges, err := buildEdges(file.Edges, jobs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = jobs
	s.order = order
	s.edges = edges
	s.mu.Unlock()

	s.logger.Infow("Jobs file loaded",
		"path", s.path, "jobs", len(jobs), "edges", len(edges))
	return nil
}

// JobByID returns a job definition by id.
func (s *JobSource) JobByID(id string) (*engine.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Jobs returns all job definitions in file order.
func (s *JobSource) Jobs() []*engine.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// Edges returns all pipeline edges.
func (s *JobSource) Edges() []engine.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// buildJobs validates job definitions and converts them to engine types.
func buildJobs(wires []jobWire) (map[string]*engine.Job, []string, error) {
	jobs := make(map[string]*engine.Job, len(wires))
	order := make([]string, 0, len(wires))

	for _, w := range wires {
		if w.ID == "" {
			return nil, nil, errors.Wrap(errors.ErrInvalidConfig, "job missing id")
		}
		if _, dup := jobs[w.ID]; dup {
			return nil, nil, errors.Wrapf(errors.ErrInvalidConfig, "duplicate job id: %s", w.ID)
		}
		if w.Command == "" {
			return nil, nil, errors.Wrapf(errors.ErrInvalidConfig, "job %s missing command", w.ID)
		}

		backoff := engine.BackoffFixed
		if w.Execution.Backoff != "" {
			if !engine.IsValidBackoff(w.Execution.Backoff) {
				return nil, nil, errors.Wrapf(errors.ErrInvalidConfig,
					"job %s has unknown backoff strategy: %s", w.ID, w.Execution.Backoff)
			}
			backoff = engine.BackoffStrategy(w.Execution.Backoff)
		}
		if w.Execution.MaxRetries < 0 {
			return nil, nil, errors.Wrapf(errors.ErrInvalidConfig,
				"job %s has negative maxRetries", w.ID)
		}

		for _, opt := range w.Options {
			if err := validateOption(w.ID, opt); err != nil {
				return nil, nil, err
			}
		}

		name := w.Name
		if name == "" {
			name = w.ID
		}

		jobs[w.ID] = &engine.Job{
			ID:       w.ID,
			Name:     name,
			Command:  w.Command,
			Category: w.Category,
			Options:  w.Options,
			Execution: engine.ExecutionConfig{
				Timeout:    time.Duration(w.Execution.TimeoutMs) * time.Millisecond,
				MaxRetries: w.Execution.MaxRetries,
				RetryDelay: time.Duration(w.Execution.RetryDelayMs) * time.Millisecond,
				Backoff:    backoff,
			},
		}
		order = append(order, w.ID)
	}
	return jobs, order, nil
}

func validateOption(jobID string, opt engine.Option) error {
	if opt.Flag == "" && opt.Arg == "" {
		return errors.Wrapf(errors.ErrInvalidConfig,
			"job %s has option with neither flag nor arg", jobID)
	}
	if opt.Flag != "" && opt.Arg != "" {
		return errors.Wrapf(errors.ErrInvalidConfig,
			"job %s option %s sets both flag and arg", jobID, opt.Flag)
	}
	if !engine.IsValidOptionKind(string(opt.Kind)) {
		return errors.Wrapf(errors.ErrInvalidConfig,
			"job %s option %s has unknown type: %s", jobID, opt.Key(), opt.Kind)
	}
	if opt.Kind == engine.OptionSelect && len(opt.Choices) == 0 {
		return errors.Wrapf(errors.ErrInvalidConfig,
			"job %s select option %s has no choices", jobID, opt.Key())
	}
	return nil
}

// buildEdges validates edges and converts legacy boolean edges. A
// legacy edge with no onSuccess field fires only on success, matching
// older definition files.
func buildEdges(wires []edgeWire, jobs map[string]*engine.Job) ([]engine.Edge, error) {
	edges := make([]engine.Edge, 0, len(wires))
	for i, w := range wires {
		if w.From == "" || w.To == "" {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "edge %d missing from/to", i)
		}
		if _, ok := jobs[w.From]; !ok {
			return nil, errors.Wrapf(errors.ErrInvalidConfig,
				"edge %s references unknown source job: %s", w.ID, w.From)
		}
		if _, ok := jobs[w.To]; !ok {
			return nil, errors.Wrapf(errors.ErrInvalidConfig,
				"edge %s references unknown target job: %s", w.ID, w.To)
		}

		edge := engine.Edge{ID: w.ID, From: w.From, To: w.To}
		if w.Condition != nil {
			if err := validateCondition(w.ID, w.Condition); err != nil {
				return nil, err
			}
			edge.Condition = w.Condition
		} else {
			edge.LegacyTrigger = w.Trigger != nil && *w.Trigger
			edge.LegacyOnSuccess = w.OnSuccess == nil || *w.OnSuccess
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func validateCondition(edgeID string, cond *engine.Condition) error {
	switch cond.Type {
	case engine.CondOnSuccess, engine.CondOnFailure, engine.CondAlways, engine.CondOnExitCode:
		return nil
	case engine.CondOnOutput:
		if cond.Pattern == "" {
			return errors.Wrapf(errors.ErrInvalidConfig,
				"edge %s onOutput condition has no pattern", edgeID)
		}
		switch cond.Match {
		case engine.MatchContains, engine.MatchRegex, "":
			return nil
		default:
			return errors.Wrapf(errors.ErrInvalidConfig,
				"edge %s has unknown match type: %s", edgeID, cond.Match)
		}
	default:
		return errors.Wrapf(errors.ErrInvalidConfig,
			"edge %s has unknown condition type: %s", edgeID, cond.Type)
	}
}
