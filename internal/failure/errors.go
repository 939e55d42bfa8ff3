// Package failure defines the error taxonomy shared by the pipeline and the
// conversation layer, and the reason codes surfaced to callers.
package failure

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindAlignment      Kind = "alignment"
	KindTransient      Kind = "transient"
	KindPermanent      Kind = "permanent"
	KindUnknownSession Kind = "unknown_session"
	KindEmptyQuestion  Kind = "empty_question"
	KindInvariant      Kind = "invariant"
	KindCanceled       Kind = "canceled"
)

// Reason codes reported with a failed job or a rejected request
const (
	ReasonAlignment          = "ERR_ALIGNMENT"
	ReasonTransientExhausted = "ERR_TRANSIENT_EXHAUSTED"
	ReasonPermanentAdapter   = "ERR_PERMANENT_ADAPTER"
	ReasonInvariant          = "ERR_INVARIANT"
	ReasonCanceled           = "ERR_CANCELED"
	ReasonUnknownSession     = "ERR_UNKNOWN_SESSION"
	ReasonEmptyQuestion      = "ERR_EMPTY_QUESTION"
	ReasonInternal           = "ERR_INTERNAL"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(kind Kind, op, message string, cause error) error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Alignment reports that the diarization output cannot anchor a transcript.
func Alignment(message string) error {
	return New(KindAlignment, "align", message, nil)
}

// Transient wraps a retryable adapter failure (timeout, rate limit).
func Transient(op string, cause error) error {
	return New(KindTransient, op, "", cause)
}

// Permanent wraps a non-retryable adapter failure (bad input, auth).
func Permanent(op string, cause error) error {
	return New(KindPermanent, op, "", cause)
}

// Invariant reports a broken contract inside the process. Never retried.
func Invariant(message string) error {
	return New(KindInvariant, "validate", message, nil)
}

func UnknownSession(sessionID string) error {
	return New(KindUnknownSession, "ask", fmt.Sprintf("no live session %q", sessionID), nil)
}

func EmptyQuestion() error {
	return New(KindEmptyQuestion, "ask", "question is blank", nil)
}

func Canceled(op string, cause error) error {
	return New(KindCanceled, op, "", cause)
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// cancellation errors are reported as KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return ""
}

func IsTransient(err error) bool      { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool      { return KindOf(err) == KindPermanent }
func IsAlignment(err error) bool      { return KindOf(err) == KindAlignment }
func IsInvariant(err error) bool      { return KindOf(err) == KindInvariant }
func IsUnknownSession(err error) bool { return KindOf(err) == KindUnknownSession }
func IsEmptyQuestion(err error) bool  { return KindOf(err) == KindEmptyQuestion }
func IsCanceled(err error) bool       { return KindOf(err) == KindCanceled }

// ReasonCode maps an error to the machine-readable code shown to users.
func ReasonCode(err error) string {
	switch KindOf(err) {
	case KindAlignment:
		return ReasonAlignment
	case KindTransient:
		return ReasonTransientExhausted
	case KindPermanent:
		return ReasonPermanentAdapter
	case KindInvariant:
		return ReasonInvariant
	case KindCanceled:
		return ReasonCanceled
	case KindUnknownSession:
		return ReasonUnknownSession
	case KindEmptyQuestion:
		return ReasonEmptyQuestion
	default:
		return ReasonInternal
	}
}

// FromHTTPStatus classifies a non-2xx response from an external adapter:
// rate limiting and server errors are transient, everything else permanent.
func FromHTTPStatus(op string, status int, body string) error {
	cause := fmt.Errorf("http %d: %s", status, body)
	if status == 429 || status == 408 || status >= 500 {
		return Transient(op, cause)
	}
	return Permanent(op, cause)
}
