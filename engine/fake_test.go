package engine

import (
	"context"
	"sync"
	"time"
)

// fakeScript describes the behavior of one spawned fake process.
type fakeScript struct {
	spawnErr       error
	stdout         string
	stderr         string
	code           int
	err            error
	delay          time.Duration
	blockUntilKill bool
}

// fakeSpawner replays scripted process outcomes in spawn order. The last
// script repeats once the list is exhausted.
type fakeSpawner struct {
	mu       sync.Mutex
	scripts  []fakeScript
	idx      int
	commands []string
}

func newFakeSpawner(scripts ...fakeScript) *fakeSpawner {
	return &fakeSpawner{scripts: scripts}
}

func (s *fakeSpawner) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *fakeSpawner) Spawn(ctx context.Context, command string, env []string) (Process, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	script := s.scripts[len(s.scripts)-1]
	if s.idx < len(s.scripts) {
		script = s.scripts[s.idx]
	}
	s.idx++
	s.mu.Unlock()

	if script.spawnErr != nil {
		return nil, script.spawnErr
	}

	p := &fakeProcess{
		output: make(chan OutputChunk, 8),
		done:   make(chan ExitResult, 1),
		killed: make(chan struct{}),
	}

	go func() {
		if script.stdout != "" {
			p.output <- OutputChunk{Stream: "stdout", Data: []byte(script.stdout)}
		}
		if script.stderr != "" {
			p.output <- OutputChunk{Stream: "stderr", Data: []byte(script.stderr)}
		}
		if script.delay > 0 {
			time.Sleep(script.delay)
		}

		code := script.code
		if script.blockUntilKill {
			<-p.killed
			code = 137
		}

		close(p.output)
		p.done <- ExitResult{Code: code, Err: script.err}
		close(p.done)
	}()

	return p, nil
}

type fakeProcess struct {
	output   chan OutputChunk
	done     chan ExitResult
	killed   chan struct{}
	killOnce sync.Once
}

func (p *fakeProcess) Output() <-chan OutputChunk { return p.output }
func (p *fakeProcess) Done() <-chan ExitResult    { return p.done }
func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() { close(p.killed) })
}

// fakeNotifier counts terminal notifications per outcome.
type fakeNotifier struct {
	mu        sync.Mutex
	succeeded []*HistoryRecord
	failed    []*HistoryRecord
}

func (n *fakeNotifier) JobSucceeded(ctx context.Context, job *Job, rec *HistoryRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, rec)
}

func (n *fakeNotifier) JobFailed(ctx context.Context, job *Job, rec *HistoryRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, rec)
}

func (n *fakeNotifier) counts() (succeeded, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.succeeded), len(n.failed)
}

// fakeChain records pipeline trigger invocations.
type chainCall struct {
	jobID  string
	status RunStatus
	depth  int
}

type fakeChain struct {
	mu    sync.Mutex
	calls []chainCall
}

func (c *fakeChain) TriggerNext(ctx context.Context, jobID string, status RunStatus, prev *HistoryRecord, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, chainCall{jobID: jobID, status: status, depth: depth})
}

func (c *fakeChain) Calls() []chainCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chainCall, len(c.calls))
	copy(out, c.calls)
	return out
}
