// Package errs implements the control plane's transport-agnostic error
// taxonomy. Every error that can cross an RPC or CLI boundary is wrapped
// into a *Error so callers can branch on Kind instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the transport-agnostic error kinds.
type Kind string

const (
	NotFound           Kind = "NotFound"
	AlreadyExists      Kind = "AlreadyExists"
	MissingArgument    Kind = "MissingArgument"
	InvalidArgument    Kind = "InvalidArgument"
	Conflict           Kind = "Conflict"
	PreconditionFailed Kind = "PreconditionFailed"
	Unavailable        Kind = "Unavailable"
	Timeout            Kind = "Timeout"
	Aborted            Kind = "Aborted"
	Unauthorized       Kind = "Unauthorized"
	Unimplemented      Kind = "Unimplemented"
	Internal           Kind = "Internal"
)

// Error is the concrete error type returned across every component
// boundary in this module.
type Error struct {
	Kind     Kind
	Resource string
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Resource, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, resource, code, message string) *Error {
	return &Error{Kind: kind, Resource: resource, Code: code, Message: message}
}

// Wrap builds an *Error carrying cause as its wrapped error.
func Wrap(kind Kind, resource, code string, cause error) *Error {
	return &Error{Kind: kind, Resource: resource, Code: code, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal if err does
// not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// OpInProgress is a Conflict error raised by the sequencer when a second
// operation is started on a resource that already has one pending.
func OpInProgress(resource string) *Error {
	return New(Conflict, resource, "OpInProgress", "a mutation is already pending on this resource")
}

// StoreUnavailable wraps a persistent-store timeout or connectivity
// failure.
func StoreUnavailable(cause error) *Error {
	return Wrap(Unavailable, "", "StoreUnavailable", cause)
}

// NodeUnavailable wraps a data-plane connector failure.
func NodeUnavailable(nodeID string, cause error) *Error {
	return Wrap(Unavailable, nodeID, "NodeUnavailable", cause)
}

// LeaseLost indicates this process no longer holds the cluster leader
// lease. The caller is expected to treat this as process-fatal.
func LeaseLost(cause error) *Error {
	return Wrap(Aborted, "", "LeaseLost", cause)
}

// NotFoundErr builds a NotFound error for the given resource/id.
func NotFoundErr(resource, id string) *Error {
	return New(NotFound, resource, "NotFound", fmt.Sprintf("%s %q not found", resource, id))
}
