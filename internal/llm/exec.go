package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/metalagman/ainvoke"
)

const anyObjectSchema = `{"$schema":"http://json-schema.org/draft-07/schema#","type":"object"}`

// ExecConfig configures an external agent CLI backend.
type ExecConfig struct {
	Cmd    []string
	Model  string
	UseTTY bool
	// TempDir is where per-call run directories are created. Empty means the
	// system temp directory.
	TempDir string
}

// Exec runs an external agent command once per request. The command reads
// input.json from its run directory and writes output.json.
type Exec struct {
	cfg    ExecConfig
	runner ainvoke.Runner
}

// NewExec constructs an exec backend.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("exec backend requires cmd")
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cfg.Cmd,
		UseTTY: cfg.UseTTY,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec runner: %w", err)
	}
	return &Exec{cfg: cfg, runner: runner}, nil
}

// Complete implements Completer.
func (e *Exec) Complete(ctx context.Context, req Request) (string, error) {
	runDir, err := os.MkdirTemp(e.cfg.TempDir, "lessonloop-call-*")
	if err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	prompt := req.Instructions
	if e.cfg.Model != "" {
		prompt += "\n\nUse model hint: " + e.cfg.Model + " (if relevant)."
	}

	var stderr bytes.Buffer
	inv := ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: prompt,
		Input:        req.Input,
		InputSchema:  schemaOrAny(req.InputSchema),
		OutputSchema: schemaOrAny(req.OutputSchema),
	}
	out, _, exitCode, err := e.runner.Run(ctx, inv, ainvoke.WithStderr(&stderr))
	if err != nil {
		return "", fmt.Errorf("run %s: %w%s", e.cfg.Cmd[0], err, tail(stderr.String()))
	}
	if exitCode != 0 {
		return "", fmt.Errorf("run %s: exit code %d%s", e.cfg.Cmd[0], exitCode, tail(stderr.String()))
	}
	output := strings.TrimSpace(string(out))
	if output == "" {
		return "", fmt.Errorf("run %s: empty output", e.cfg.Cmd[0])
	}
	return output, nil
}

// Describe implements Completer.
func (e *Exec) Describe() Info {
	return Info{Type: "exec", Model: e.cfg.Model, Cmd: e.cfg.Cmd}
}

func schemaOrAny(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return anyObjectSchema
	}
	return schema
}

func tail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	const limit = 512
	if len(stderr) > limit {
		stderr = stderr[len(stderr)-limit:]
	}
	return ": " + stderr
}
