// Package errs defines the error taxonomy shared by the authoring pipeline.
//
// Each failure class is a concrete type so callers can branch with errors.As,
// and each type matches a sentinel so errors.Is works without a type switch:
//
//	var collabErr *errs.CollaboratorError
//	if errors.As(err, &collabErr) { ... }
//	if errors.Is(err, errs.ErrCollaborator) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below.
var (
	ErrValidation    = errors.New("validation failed")
	ErrCollaborator  = errors.New("collaborator failed")
	ErrMaxIterations = errors.New("max iterations exceeded")
	ErrPartialBatch  = errors.New("partial batch failure")
)

// ErrFatal marks errors that must abort the whole document run.
var ErrFatal = errors.New("fatal")

// ValidationError reports a structural mismatch against an expected shape.
type ValidationError struct {
	Subject string
	Field   string
	Reason  string
}

// NewValidationError constructs a ValidationError.
func NewValidationError(subject, field, reason string) *ValidationError {
	return &ValidationError{Subject: subject, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Subject, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Subject, e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CollaboratorError is a transport or protocol failure of an external
// collaborator. It is never a quality judgement.
type CollaboratorError struct {
	Role string // generator, critic, document_critic, renderer
	Op   string
	Code string
	Err  error
}

// NewCollaboratorError wraps err as a failure of the named collaborator role.
func NewCollaboratorError(role, op string, err error) *CollaboratorError {
	return &CollaboratorError{Role: role, Op: op, Err: err}
}

// WithCode attaches a machine-readable failure code.
func (e *CollaboratorError) WithCode(code string) *CollaboratorError {
	e.Code = code
	return e
}

func (e *CollaboratorError) Error() string {
	var b strings.Builder
	b.WriteString(e.Role)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(" failed")
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is matches ErrCollaborator.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaborator
}

// MaxIterationsExceeded reports an exhausted iteration budget. At unit scope it
// is informational (the best attempt is accepted); at document scope it is fatal.
type MaxIterationsExceeded struct {
	Scope string // "unit" or "document"
	ID    string
	Limit int
}

func (e *MaxIterationsExceeded) Error() string {
	return fmt.Sprintf("%s %s: max iterations (%d) exceeded", e.Scope, e.ID, e.Limit)
}

// Is matches ErrMaxIterations.
func (e *MaxIterationsExceeded) Is(target error) bool {
	return target == ErrMaxIterations
}

// PartialBatchFailure reports units that did not reach ACCEPTED while
// siblings did.
type PartialBatchFailure struct {
	Failed []string
	Total  int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%d of %d units not accepted: %s", len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}

// Is matches ErrPartialBatch.
func (e *PartialBatchFailure) Is(target error) bool {
	return target == ErrPartialBatch
}

// Fatal marks err as fatal for the whole document run.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err must abort the document run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
