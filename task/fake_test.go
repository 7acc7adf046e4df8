package task

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// recordingPublisher captures every published event for assertions.
type publishedEvent struct {
	SubscriberID string
	Type         string
	Payload      interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(subscriberID, eventType string, payload interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{SubscriberID: subscriberID, Type: eventType, Payload: payload})
	return 1
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// funcHandler adapts a function to the Handler interface.
type funcHandler struct {
	name string
	fn   func(ctx context.Context, t *Task, emitter *Emitter) (string, error)
}

func (h *funcHandler) Name() string { return h.name }
func (h *funcHandler) Execute(ctx context.Context, t *Task, emitter *Emitter) (string, error) {
	return h.fn(ctx, t, emitter)
}

// scriptedSpawner replays scripted process outcomes for handler tests.
type scriptedSpawner struct {
	mu       sync.Mutex
	scripts  []processScript
	idx      int
	commands []string
}

type processScript struct {
	spawnErr       error
	stdout         string
	stderr         string
	code           int
	err            error
	blockUntilKill bool
}

func (s *scriptedSpawner) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *scriptedSpawner) Spawn(ctx context.Context, command string, env []string) (engine.Process, error) {
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

	p := &scriptedProcess{
		output: make(chan engine.OutputChunk, 8),
		done:   make(chan engine.ExitResult, 1),
		killed: make(chan struct{}),
	}
	go func() {
		if script.stdout != "" {
			p.output <- engine.OutputChunk{Stream: "stdout", Data: []byte(script.stdout)}
		}
		if script.stderr != "" {
			p.output <- engine.OutputChunk{Stream: "stderr", Data: []byte(script.stderr)}
		}
		code := script.code
		if script.blockUntilKill {
			select {
			case <-p.killed:
				code = 137
			case <-ctx.Done():
				code = 137
			}
		}
		close(p.output)
		p.done <- engine.ExitResult{Code: code, Err: script.err}
		close(p.done)
	}()
	return p, nil
}

type scriptedProcess struct {
	output   chan engine.OutputChunk
	done     chan engine.ExitResult
	killed   chan struct{}
	killOnce sync.Once
}

func (p *scriptedProcess) Output() <-chan engine.OutputChunk { return p.output }
func (p *scriptedProcess) Done() <-chan engine.ExitResult    { return p.done }
func (p *scriptedProcess) Kill() {
	p.killOnce.Do(func() { close(p.killed) })
}
