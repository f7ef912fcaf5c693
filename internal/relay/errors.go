package relay

import (
	"errors"
	"fmt"
)

// Kind classifies relay failures. Every error returned by Relay.Handle carries
// exactly one kind.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindUpstream       Kind = "upstream"
	KindTransport      Kind = "transport"
	KindStorage        Kind = "storage"
	KindConflict       Kind = "conflict"
	KindUnknown        Kind = "unknown"
)

// InvalidRequestError is a caller error detected before any I/O.
type InvalidRequestError struct {
	Reason string // Human-readable explanation
	Err    error  // Underlying parse error, if any
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// UpstreamError means the remote answered with a status other than 200.
type UpstreamError struct {
	StatusCode int
	Status     string // Full status line text, e.g. "404 Not Found"
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with HTTP %d", e.StatusCode)
}

// TransportError is a network failure reaching or reading from the remote:
// refused connections, DNS failures, timeouts and mid-stream resets.
type TransportError struct {
	Operation string // "connect" or "read"
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StorageError is a local filesystem or registry failure.
type StorageError struct {
	Operation string // "create", "write", "finalize" or "claim"
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
	}

	return fmt.Sprintf("storage error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConflictError rejects a download whose destination is already being written
// by another in-flight request.
type ConflictError struct {
	Filename string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a download to %s is already in progress", e.Filename)
}

// KindOf returns the kind of err, looking through wrapped errors.
func KindOf(err error) Kind {
	var (
		invalid   *InvalidRequestError
		upstream  *UpstreamError
		transport *TransportError
		store     *StorageError
		conflict  *ConflictError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return KindInvalidRequest
	case errors.As(err, &upstream):
		return KindUpstream
	case errors.As(err, &transport):
		return KindTransport
	case errors.As(err, &store):
		return KindStorage
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindUnknown
	}
}
