package engine

import (
	"sync"
	"time"

	"github.com/flowd-sh/flowd/errors"
)

// RunningHandle is the live, mutable record of an in-flight job run,
// used for duplicate-run detection and live output buffering.
type RunningHandle struct {
	HistoryID string
	Command   string
	StartedAt time.Time

	mu     sync.Mutex
	stdout []byte
	stderr []byte
	kill   func()
}

// AppendOutput buffers a chunk of live process output.
func (h *RunningHandle) AppendOutput(stream string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stream == "stderr" {
		h.stderr = append(h.stderr, data...)
	} else {
		h.stdout = append(h.stdout, data...)
	}
}

// Output returns copies of the buffered stdout and stderr.
func (h *RunningHandle) Output() (stdout, stderr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.stdout), string(h.stderr)
}

// setKill installs the process termination hook once the process exists.
func (h *RunningHandle) setKill(kill func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kill = kill
}

// Kill terminates the associated process, if one is attached.
func (h *RunningHandle) Kill() {
	h.mu.Lock()
	kill := h.kill
	h.mu.Unlock()
	if kill != nil {
		kill()
	}
}

// State holds the engine's process-wide registries: the running-job
// table and the in-memory history log. It is an explicit store passed
// to every component constructor, never ambient package state, so the
// engine can be instantiated per process or per test.
type State struct {
	mu      sync.Mutex
	running map[string]*RunningHandle
	history []*HistoryRecord
	maxHist int
}

// NewState creates an empty state. maxHistory <= 0 uses the default
// retention bound.
func NewState(maxHistory int) *State {
	if maxHistory <= 0 {
		maxHistory = DefaultHistoryRetention
	}
	return &State{
		running: make(map[string]*RunningHandle),
		maxHist: maxHistory,
	}
}

// Acquire installs a running handle for a job id. It fails with
// ErrAlreadyRunning when a handle already exists and the trigger is not
// a retry re-entry.
//
// NOTE: this is an advisory check-then-set under one mutex, not a
// distributed lock. Two Acquire calls serialize on the mutex, so within
// a single process the window described in the original design cannot
// admit two handles; no stronger guarantee is made across processes.
func (s *State) Acquire(jobID string, trigger TriggerOrigin, handle *RunningHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.running[jobID]; exists && trigger != TriggerRetry {
		return errors.Wrapf(errors.ErrAlreadyRunning, "job %s", jobID)
	}
	s.running[jobID] = handle
	return nil
}

// Release removes the running handle for a job id. Safe to call when no
// handle exists.
func (s *State) Release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// Running returns the live handle for a job id, or nil.
func (s *State) Running(jobID string) *RunningHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[jobID]
}

// RunningCount returns the number of in-flight runs.
func (s *State) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// AppendHistory appends a record in start order and evicts the oldest
// entries beyond the retention bound. History is append-only during a
// process lifetime.
func (s *State) AppendHistory(r *HistoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > s.maxHist {
		s.history = s.history[len(s.history)-s.maxHist:]
	}
}

// History returns a snapshot of the in-memory history, in start order.
func (s *State) History() []*HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*HistoryRecord, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryForJob returns the records for one job id, in start order.
func (s *State) HistoryForJob(jobID string) []*HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*HistoryRecord
	for _, r := range s.history {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}
