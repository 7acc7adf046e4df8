package engine

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/flowd-sh/flowd/errors"
)

// OutputChunk is one piece of live process output.
type OutputChunk struct {
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// ExitResult is the terminal outcome of a spawned process.
type ExitResult struct {
	Code int
	Err  error // non-exit failures (I/O errors during wait)
}

// Process is a handle on a spawned shell command. Output delivers chunks
// as they arrive; Done delivers exactly one ExitResult after Output is
// exhausted. Kill terminates the whole process group.
type Process interface {
	Output() <-chan OutputChunk
	Done() <-chan ExitResult
	Kill()
}

// Spawner starts shell commands. The engine and the async task queue
// both consume this; tests substitute a scripted fake.
type Spawner interface {
	Spawn(ctx context.Context, shellCommand string, env []string) (Process, error)
}

// ShellSpawner runs commands through a shell interpreter, placing each
// command in its own process group so Kill reaps the whole pipeline.
type ShellSpawner struct {
	Shell string // defaults to /bin/sh
}

// NewShellSpawner creates a spawner using the default shell.
func NewShellSpawner() *ShellSpawner {
	return &ShellSpawner{Shell: "/bin/sh"}
}

// Spawn starts the command. A nil error means the process is running and
// the caller owns the returned handle.
func (s *ShellSpawner) Spawn(ctx context.Context, shellCommand string, env []string) (Process, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", shellCommand)
	cmd.Env = append(os.Environ(), env...)
	// Own process group so the shell's children die with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrSpawn, err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrSpawn, err.Error())
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrSpawn, err.Error())
	}

	p := &shellProcess{
		cmd:    cmd,
		output: make(chan OutputChunk, 64),
		done:   make(chan ExitResult, 1),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readStream("stdout", stdout, &readers)
	go p.readStream("stderr", stderr, &readers)

	exited := make(chan struct{})
	go func() {
		// Shutdown path: take the whole group down, not just the shell
		select {
		case <-ctx.Done():
			p.Kill()
		case <-exited:
		}
	}()

	go func() {
		readers.Wait()
		close(p.output)

		err := cmd.Wait()
		result := ExitResult{Code: 0}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.Code = exitErr.ExitCode()
			} else {
				result.Code = -1
				result.Err = err
			}
		}
		close(exited)
		p.done <- result
		close(p.done)
	}()

	return p, nil
}

type shellProcess struct {
	cmd      *exec.Cmd
	output   chan OutputChunk
	done     chan ExitResult
	killOnce sync.Once
}

func (p *shellProcess) Output() <-chan OutputChunk { return p.output }
func (p *shellProcess) Done() <-chan ExitResult    { return p.done }

// Kill signals the whole process group. Idempotent.
func (p *shellProcess) Kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		pid := p.cmd.Process.Pid
		// Negative pid targets the process group created by Setpgid
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			p.cmd.Process.Kill()
		}
	})
}

func (p *shellProcess) readStream(name string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.output <- OutputChunk{Stream: name, Data: data}
		}
		if err != nil {
			return
		}
	}
}
