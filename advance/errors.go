package advance

import (
	"errors"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/projection"
	"github.com/workrail/durable-core/session"
	"github.com/workrail/durable-core/snapshotstore"
	"github.com/workrail/durable-core/token"
	"github.com/workrail/durable-core/workflowstore"
)

// wrapErr maps an error returned by one of this package's dependencies
// into the external envelope's closed Code set (spec §7), preserving the
// originating package's own code instead of collapsing everything to
// CodeInternalError. A nil err maps to nil so call sites can write
// `return wrapErr(err)` unconditionally.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *Error:
		return e
	case *token.Error:
		return wrapTokenErr(e)
	case *session.Error:
		return wrapSessionErr(e)
	case *eventlog.Error:
		return &Error{Code: Code(e.Code), Message: e.Error()}
	case *snapshotstore.Error:
		return &Error{Code: Code(e.Code), Message: e.Error()}
	case *workflowstore.Error:
		return &Error{Code: Code(e.Code), Message: e.Error()}
	case *projection.Error:
		return &Error{Code: Code(e.Code), Message: e.Error()}
	case *interp.Error:
		return &Error{Code: Code(e.Code), Message: e.Error()}
	}
	if errors.Is(err, fsport.ErrIOError) {
		return &Error{Code: CodeInternalError, Message: err.Error(), Retry: Retry{Kind: RetryRetryable, AfterMs: 1000}}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// wrapSessionErr maps a session.Error to the external envelope (spec §5,
// §7, §8 S6). Spec §5 is explicit that lock contention on the path every
// advance/errors.go caller takes — a token-scoped tool call hitting an
// already-held session lock — surfaces as TOKEN_SESSION_LOCKED,
// retryable after 1s; SESSION_NOT_HEALTHY is never retryable and carries
// the session's health verdict in Details so a caller can inspect
// details.health.kind per spec §8 S6.
func wrapSessionErr(e *session.Error) *Error {
	switch e.Code {
	case session.CodeSessionLocked:
		return &Error{Code: CodeTokenSessionLocked, Message: e.Error(), Retry: Retry{Kind: RetryRetryable, AfterMs: 1000}}
	case session.CodeSessionNotHealthy:
		out := &Error{Code: CodeSessionNotHealthy, Message: e.Error(), Retry: Retry{Kind: RetryNotRetry}}
		if e.Health != nil {
			out.Details = map[string]any{"health": e.Health}
		}
		return out
	default:
		// CodeSessionLockReentrant is a same-process misuse, not part of
		// the external closed set; it indicates a bug in the caller, not a
		// retryable or user-facing condition.
		return &Error{Code: CodePreconditionFailed, Message: e.Error()}
	}
}

// wrapTokenErr maps a token.Error into this package's closed error type,
// preserving the token package's own code (spec §7 "Token errors").
func wrapTokenErr(err error) error {
	if terr, ok := err.(*token.Error); ok {
		return &Error{Code: Code(terr.Code), Message: terr.Error()}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// mapSessionErr maps an error surfaced from inside a
// session.Gate.WithHealthySessionLock closure back to this package's
// closed error type. Errors already shaped as *Error (including those
// produced by wrapErr inside the closure) pass through unchanged.
func mapSessionErr(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *Error:
		return e
	case *session.Error:
		return wrapSessionErr(e)
	default:
		return wrapErr(err)
	}
}
