package core

import (
	"context"
	"errors"
	"fmt"
)

// Controller and model errors
var (
	ErrInvalidRequest     = errors.New("genjobs: invalid request")
	ErrSubmissionInFlight = errors.New("genjobs: a submission for this request is already in flight")
	ErrJobNotFound        = errors.New("genjobs: job not found")
	ErrJobTerminal        = errors.New("genjobs: job is in a terminal state")
	ErrJobNotCompleted    = errors.New("genjobs: job has not completed")
	ErrJobMismatch        = errors.New("genjobs: snapshot belongs to a different job")
	ErrInvalidStatus      = errors.New("genjobs: invalid job status")
	ErrMissingJobID       = errors.New("genjobs: backend did not assign a job id")
	ErrVariantNotFound    = errors.New("genjobs: variant not found")
	ErrControllerClosed   = errors.New("genjobs: controller closed")
)

// Client-synthesized failure diagnostics.
const (
	DiagnosticLostConnection = "lost connection to generation service"
	DiagnosticJobUnavailable = "generation job unavailable"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindAuth       ErrorKind = "auth"
	KindNotFound   ErrorKind = "not_found"
	KindServer     ErrorKind = "server"
	KindValidation ErrorKind = "validation"
)

// TransportError is a typed failure surfaced by a Transport.
type TransportError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("genjobs: %s error (http %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("genjobs: %s error: %s", e.Kind, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError of the given kind.
func NewTransportError(kind ErrorKind, status int, msg string, err error) *TransportError {
	return &TransportError{Kind: kind, Status: status, Message: msg, Err: err}
}

// ErrorKindOf returns the transport kind of err, or "" if err is not a TransportError.
func ErrorKindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsRetryable reports whether a failed status check is worth repeating.
// Network and server failures are transient; auth, not-found and validation
// failures are permanent. Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch ErrorKindOf(err) {
	case KindAuth, KindNotFound, KindValidation:
		return false
	}
	return true
}
