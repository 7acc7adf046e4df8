package task

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/engine"
	"github.com/flowd-sh/flowd/errors"
)

// maxResultSize caps how much captured output is stored as a task
// result. Full output remains available through the task log.
const maxResultSize = 16 * 1024

// CommandHandler runs an arbitrary shell command as a background task,
// streaming its output as log lines.
type CommandHandler struct {
	spawner engine.Spawner
	logger  *zap.SugaredLogger
}

// NewCommandHandler creates a shell command task handler.
func NewCommandHandler(spawner engine.Spawner, logger *zap.SugaredLogger) *CommandHandler {
	return &CommandHandler{spawner: spawner, logger: logger}
}

// Name returns the handler identifier.
func (h *CommandHandler) Name() string {
	return "shell.command"
}

// CommandPayload is the job payload for shell command execution.
type CommandPayload struct {
	Command string `json:"command"`
}

// Execute runs the command to completion, streaming output lines.
func (h *CommandHandler) Execute(ctx context.Context, t *Task, emitter *Emitter) (string, error) {
	var payload CommandPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return "", errors.Wrap(err, "invalid payload: failed to unmarshal")
	}
	if payload.Command == "" {
		return "", errors.New("invalid payload: command is required")
	}

	h.logger.Infow("Executing shell command task",
		"task_id", t.ID, "command", payload.Command)

	return streamCommand(ctx, h.spawner, payload.Command, emitter)
}

// AnalysisHandler shells out to an LLM command-line tool to analyze a
// prompt, streaming the model's output token chunks as they arrive.
type AnalysisHandler struct {
	cli     string // LLM CLI binary, e.g. "claude"
	model   string // optional model override
	spawner engine.Spawner
	logger  *zap.SugaredLogger
}

// NewAnalysisHandler creates an LLM analysis task handler.
func NewAnalysisHandler(cli, model string, spawner engine.Spawner, logger *zap.SugaredLogger) *AnalysisHandler {
	if cli == "" {
		cli = "claude"
	}
	return &AnalysisHandler{cli: cli, model: model, spawner: spawner, logger: logger}
}

// Name returns the handler identifier.
func (h *AnalysisHandler) Name() string {
	return "analysis.llm"
}

// AnalysisPayload is the job payload for LLM analysis.
type AnalysisPayload struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"` // appended to the prompt
	Model   string `json:"model,omitempty"`   // overrides the configured model
}

// Execute runs the LLM CLI in print mode and returns its output.
func (h *AnalysisHandler) Execute(ctx context.Context, t *Task, emitter *Emitter) (string, error) {
	var payload AnalysisPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return "", errors.Wrap(err, "invalid payload: failed to unmarshal")
	}
	if payload.Prompt == "" {
		return "", errors.New("invalid payload: prompt is required")
	}

	prompt := payload.Prompt
	if payload.Context != "" {
		prompt = prompt + "\n\n" + payload.Context
	}

	model := h.model
	if payload.Model != "" {
		model = payload.Model
	}

	parts := []string{h.cli, "-p", prompt}
	if model != "" {
		parts = append(parts, "--model", model)
	}
	command := shellquote.Join(parts...)

	h.logger.Infow("Starting LLM analysis",
		"task_id", t.ID, "cli", h.cli, "model", model, "prompt_length", len(prompt))

	emitter.EmitProgress(10, "waiting for model output")
	result, err := streamCommand(ctx, h.spawner, command, emitter)
	if err != nil {
		return "", err
	}

	h.logger.Infow("LLM analysis complete",
		"task_id", t.ID, "output_length", len(result))
	return result, nil
}

// streamCommand spawns a command, streams its output through the
// emitter line by line, and returns the captured stdout.
func streamCommand(ctx context.Context, spawner engine.Spawner, command string, emitter *Emitter) (string, error) {
	proc, err := spawner.Spawn(ctx, command, nil)
	if err != nil {
		return "", err
	}
	emitter.AttachProcess(proc)

	var captured strings.Builder
	partial := map[string]string{}

	for chunk := range proc.Output() {
		if chunk.Stream == "stdout" && captured.Len() < maxResultSize {
			captured.Write(chunk.Data)
		}

		// Re-chunk raw output into whole lines for the log
		text := partial[chunk.Stream] + string(chunk.Data)
		lines := strings.Split(text, "\n")
		partial[chunk.Stream] = lines[len(lines)-1]
		for _, line := range lines[:len(lines)-1] {
			emitter.EmitLog(chunk.Stream, line)
		}
	}
	for stream, rest := range partial {
		if rest != "" {
			emitter.EmitLog(stream, rest)
		}
	}

	result := <-proc.Done()
	if result.Err != nil {
		return "", errors.Wrap(result.Err, "command failed")
	}
	if result.Code != 0 {
		return "", errors.Newf("command exited with code %d", result.Code)
	}

	out := captured.String()
	if len(out) > maxResultSize {
		out = out[:maxResultSize]
	}
	return strings.TrimSpace(out), nil
}
