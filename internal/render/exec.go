package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExecBackend runs one configured command per tool. The job is written to the
// command's stdin as JSON and the output path is also passed as the last
// argument.
type ExecBackend struct {
	commands map[string][]string
}

// NewExecBackend constructs an ExecBackend from tool name to command line.
func NewExecBackend(commands map[string][]string) *ExecBackend {
	return &ExecBackend{commands: commands}
}

// Draw implements Backend.
func (b *ExecBackend) Draw(ctx context.Context, job Job) error {
	argv := b.commands[job.Tool]
	if len(argv) == 0 {
		return &Error{
			Code:       CodeUnavailable,
			Message:    fmt.Sprintf("no %s tool configured for %s", job.Tool, job.Type),
			Suggestion: fmt.Sprintf("set renderer.commands.%s in the config", job.Tool),
		}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return &Error{Code: CodeInvalidSpec, Message: "encode figure", Err: err}
	}

	args := append(append([]string(nil), argv[1:]...), job.Output)
	log.Debug().Str("cmd", argv[0]).Strs("args", args).Str("type", job.Type).Msg("running render command")
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return &Error{
			Code:       CodeUnavailable,
			Message:    fmt.Sprintf("%s tool %q not found", job.Tool, argv[0]),
			Suggestion: "install it or fix renderer.commands." + job.Tool,
			Err:        err,
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: fmt.Sprintf("%s tool timed out", job.Tool), Err: err}
	default:
		return &Error{
			Code:    CodeFailed,
			Message: fmt.Sprintf("%s tool: %v: %s", job.Tool, err, strings.TrimSpace(string(out))),
			Err:     err,
		}
	}
}
