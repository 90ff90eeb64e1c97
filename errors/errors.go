// Package errors provides standardized error handling for eventflow
// components. Every error that crosses a package boundary is tagged with one
// of a closed set of kinds, which the topology runtime uses to decide between
// retrying, dropping, and restarting a component.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360/eventflow/pkg/retry"
)

// Kind classifies errors for handling purposes. The set is closed: new
// failure modes must be mapped onto an existing kind, not given a new one.
type Kind int

const (
	// KindConfiguration covers config load and validation failures. Fatal at
	// startup; on reload the previous config is kept.
	KindConfiguration Kind = iota
	// KindTransport covers source read and sink write failures. Retried with
	// backoff; finalizers eventually resolve.
	KindTransport
	// KindDecode covers malformed input. The event is dropped and its
	// finalizer resolves Rejected.
	KindDecode
	// KindEncode covers sink serialization failures. The event is dropped and
	// its finalizer resolves Errored.
	KindEncode
	// KindBufferFull covers sends refused by a full buffer.
	KindBufferFull
	// KindCorruption covers CRC or frame mismatches on disk buffer reads.
	KindCorruption
	// KindInternal covers invariant violations. The owning task is aborted
	// and the topology restarts it.
	KindInternal
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindBufferFull:
		return "buffer_full"
	case KindCorruption:
		return "corruption"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Buffer errors
	ErrBufferFull   = errors.New("buffer full")
	ErrBufferClosed = errors.New("buffer closed")

	// Disk buffer errors
	ErrBufferLocked   = errors.New("buffer directory locked by another process")
	ErrRecordCorrupt  = errors.New("record checksum mismatch")
	ErrRecordTooLarge = errors.New("record exceeds maximum segment size")
	ErrLedgerInvalid  = errors.New("ledger file invalid")

	// Topology errors
	ErrUnknownComponent = errors.New("unknown component")
	ErrUnknownOutput    = errors.New("unknown output")
	ErrCycleDetected    = errors.New("component graph contains a cycle")
	ErrUnhealthy        = errors.New("sink healthcheck failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its kind and origin.
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// ClassifyKind returns the kind for an error. Unclassified errors default to
// KindInternal so that unexpected failures surface through the restart path
// rather than being silently retried.
func ClassifyKind(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrBufferFull):
		return KindBufferFull
	case errors.Is(err, ErrRecordCorrupt), errors.Is(err, ErrLedgerInvalid):
		return KindCorruption
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrMissingConfig):
		return KindConfiguration
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransport
	}

	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return ClassifyKind(err) == k
}

// IsUnhealthy reports whether err stems from a failed startup healthcheck.
// The daemon maps it to a dedicated exit code under --require-healthy.
func IsUnhealthy(err error) bool {
	return errors.Is(err, ErrUnhealthy)
}

// IsRetryable reports whether an error should be retried with backoff.
// Only transport errors are retryable; everything else is handled at its
// point of origin or escalated to the topology.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if retry.IsNonRetryable(err) {
		return false
	}
	return ClassifyKind(err) == KindTransport
}

// Wrap creates a standardized error with context following the pattern
// "component.operation: action failed: %w".
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

func wrapKind(k Kind, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Kind:      k,
		Err:       Wrap(err, component, operation, action),
		Component: component,
		Operation: operation,
	}
}

// WrapConfiguration wraps an error as a configuration failure.
func WrapConfiguration(err error, component, operation, action string) error {
	return wrapKind(KindConfiguration, err, component, operation, action)
}

// WrapTransport wraps an error as a transport failure.
func WrapTransport(err error, component, operation, action string) error {
	return wrapKind(KindTransport, err, component, operation, action)
}

// WrapDecode wraps an error as a decode failure.
func WrapDecode(err error, component, operation, action string) error {
	return wrapKind(KindDecode, err, component, operation, action)
}

// WrapEncode wraps an error as an encode failure.
func WrapEncode(err error, component, operation, action string) error {
	return wrapKind(KindEncode, err, component, operation, action)
}

// WrapBufferFull wraps an error as a buffer-full condition.
func WrapBufferFull(err error, component, operation, action string) error {
	return wrapKind(KindBufferFull, err, component, operation, action)
}

// WrapCorruption wraps an error as on-disk corruption.
func WrapCorruption(err error, component, operation, action string) error {
	return wrapKind(KindCorruption, err, component, operation, action)
}

// WrapInternal wraps an error as an invariant violation.
func WrapInternal(err error, component, operation, action string) error {
	return wrapKind(KindInternal, err, component, operation, action)
}

// RetryConfig returns the retry configuration used when restarting failed
// components and retrying transport operations.
func RetryConfig() retry.Config {
	return retry.DefaultConfig()
}
