package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Error codes.
const (
	CodeTimeout     = "timeout"
	CodeUnavailable = "unavailable"
	CodeInvalidSpec = "invalid_spec"
	CodeFailed      = "failed"
)

// Error is a render failure. Suggestion, when set, tells the author of the
// figure spec what to change.
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("render %s: %s", e.Code, e.Message)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidSpec(msg, suggestion string) *Error {
	return &Error{Code: CodeInvalidSpec, Message: msg, Suggestion: suggestion}
}

// Image is a rendered figure on disk.
type Image struct {
	Path string
	Type string
	Size int64
}

// Job is one drawing request handed to a backend.
type Job struct {
	Tool   string `json:"tool"`
	Type   string `json:"type"`
	Figure Figure `json:"figure"`
	Output string `json:"output"`
}

// Backend draws one job into job.Output.
type Backend interface {
	Draw(ctx context.Context, job Job) error
}

// Renderer validates figures and writes them below a root directory.
type Renderer struct {
	backend Backend
	root    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRenderer constructs a Renderer writing below root.
func NewRenderer(logger zerolog.Logger, backend Backend, root string, timeout time.Duration) *Renderer {
	return &Renderer{
		backend: backend,
		root:    root,
		timeout: timeout,
		logger:  logger.With().Str("component", "renderer").Logger(),
	}
}

// Render draws fig to target, a slash-separated path relative to the
// renderer root. It fails with *Error and never substitutes a placeholder.
func (r *Renderer) Render(ctx context.Context, fig Figure, target string) (Image, error) {
	if err := fig.Validate(); err != nil {
		return Image{}, err
	}
	rel := filepath.Clean(filepath.FromSlash(target))
	if filepath.IsAbs(rel) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Image{}, invalidSpec(fmt.Sprintf("target %q escapes the output directory", target), "")
	}
	out := filepath.Join(r.root, rel)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Image{}, &Error{Code: CodeFailed, Message: "create output directory", Err: err}
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	err := r.backend.Draw(callCtx, Job{Tool: fig.Tool(), Type: fig.Type(), Figure: fig, Output: out})
	if err != nil {
		var rerr *Error
		switch {
		case errors.As(err, &rerr):
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			rerr = &Error{Code: CodeTimeout, Message: fmt.Sprintf("%s took longer than %s", fig.Type(), r.timeout), Err: err}
		default:
			rerr = &Error{Code: CodeFailed, Message: err.Error(), Err: err}
		}
		r.logger.Warn().Str("type", fig.Type()).Str("code", rerr.Code).Err(err).Msg("render failed")
		return Image{}, rerr
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return Image{}, &Error{Code: CodeFailed, Message: fmt.Sprintf("%s tool produced no image at %s", fig.Tool(), out), Err: err}
	}
	r.logger.Debug().Str("type", fig.Type()).Str("path", out).Dur("duration", time.Since(start)).Msg("figure rendered")
	return Image{Path: out, Type: fig.Type(), Size: info.Size()}, nil
}
