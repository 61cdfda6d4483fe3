// Package coreerrors defines the error-kind taxonomy shared by every
// component of the insights core: provider adapter, credential vault,
// model catalog, pipeline engine, judge engine, and duplicate guard.
//
// Kinds are sentinel values, not distinct Go types, so callers classify
// with errors.Is against a wrapped Error rather than type assertions.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a core error. See spec §7 for the
// full taxonomy and recoverability rules.
type Kind string

const (
	KindUnknownModel       Kind = "unknown_model"
	KindNoCredential       Kind = "no_credential"
	KindAuthError          Kind = "auth_error"
	KindTransientError     Kind = "transient_error"
	KindProviderError      Kind = "provider_error"
	KindPipelineError      Kind = "pipeline_error"
	KindJudgeParseError    Kind = "judge_parse_error"
	KindTranscriptMismatch Kind = "transcript_mismatch"
	KindCrossTenant        Kind = "cross_tenant"
	KindSameAnalysis       Kind = "same_analysis"
	KindDuplicateConflict  Kind = "duplicate_conflict"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
)

// Error is the wrapped error carried across component boundaries. Stage
// and ExistingID are populated only where the kind calls for them
// (PipelineError carries Stage; DuplicateConflict carries ExistingID).
type Error struct {
	Kind       Kind
	Message    string
	Stage      int    // 1, 2, or 3; zero if not stage-scoped
	Model      string // model name in play when the error occurred, if any
	Provider   string
	ExistingID string // populated for DuplicateConflict
	Attempt    int    // retry attempt number, for TransientError context
	Err        error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Stage > 0 {
		msg = fmt.Sprintf("%s (stage %d)", msg, e.Stage)
	}
	if e.Model != "" {
		msg = fmt.Sprintf("%s (model %s)", msg, e.Model)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, coreerrors.New(KindX, "")) style kind checks
// by comparing Kind rather than pointer identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithStage returns a copy of e with Stage set, for fluent construction
// at the call site where the failing stage is known.
func (e *Error) WithStage(stage int) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// WithModel returns a copy of e with Model/Provider set.
func (e *Error) WithModel(model, provider string) *Error {
	c := *e
	c.Model = model
	c.Provider = provider
	return &c
}

// WithExistingID returns a copy of e with ExistingID set (DuplicateConflict).
func (e *Error) WithExistingID(id string) *Error {
	c := *e
	c.ExistingID = id
	return &c
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Recoverable reports whether the kind is ever retryable by the caller
// (only TransientError, and only up to the adapter's retry budget —
// once that budget is exhausted the wrapped error is fatal like any other).
func Recoverable(kind Kind) bool {
	return kind == KindTransientError
}
