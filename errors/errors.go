// Package errors provides structured error types for the geosync engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error according to the sync error taxonomy.
type Kind string

const (
	// KindNetwork marks transient transport failures. Retried with backoff.
	KindNetwork Kind = "NETWORK"

	// KindAuth marks authentication failures. Fatal: the cycle aborts and
	// sync state is left unchanged.
	KindAuth Kind = "AUTHENTICATION"

	// KindServer marks remote 5xx responses. Treated as transient.
	KindServer Kind = "SERVER"

	// KindValidation marks 4xx responses and locally rejected input. Fatal
	// for the affected batch.
	KindValidation Kind = "VALIDATION"

	// KindGeometry marks per-record geometry transcoding failures.
	KindGeometry Kind = "GEOMETRY"

	// KindFieldMapping marks per-record attribute mapping failures.
	KindFieldMapping Kind = "FIELD_MAPPING"

	// KindLayer marks per-record local store failures.
	KindLayer Kind = "LAYER"
)

// Operation represents the sync operation during which an error occurred.
type Operation string

const (
	OpPull      Operation = "pull"
	OpPush      Operation = "push"
	OpFetch     Operation = "fetch"
	OpSend      Operation = "send"
	OpDiff      Operation = "diff"
	OpApply     Operation = "apply"
	OpValidate  Operation = "validate"
	OpReconcile Operation = "reconcile"
	OpState     Operation = "state"
	OpParse     Operation = "parse"
	OpFormat    Operation = "format"
	OpClose     Operation = "close"
)

// SyncError is the error type returned by all engine components.
type SyncError struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Component generated the error (e.g. "transport", "layer-processor").
	Component string

	// Kind classifies the error for propagation policy decisions.
	Kind Kind

	// Err is the underlying error.
	Err error

	// Retryable reports whether the operation may be retried.
	Retryable bool

	// Metadata carries additional context such as the offending field or
	// record identifier.
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a metadata key/value and returns the error.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewNetworkError creates a transient transport SyncError.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindNetwork,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewAuthError creates a fatal authentication SyncError.
func NewAuthError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindAuth,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: false,
	}
}

// NewServerError creates a SyncError for a remote 5xx response.
func NewServerError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindServer,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a fatal validation SyncError.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindValidation,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewGeometryError creates a per-record geometry SyncError.
func NewGeometryError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindGeometry,
		Op:        op,
		Component: "geometry-processor",
		Err:       cause,
		Retryable: false,
	}
}

// NewFieldMappingError creates a per-record field mapping SyncError for the
// named field.
func NewFieldMappingError(op Operation, field string, cause error) *SyncError {
	e := &SyncError{
		Kind:      KindFieldMapping,
		Op:        op,
		Component: "field-processor",
		Err:       cause,
		Retryable: false,
	}
	return e.WithMetadata("field", field)
}

// NewLayerError creates a per-record local store SyncError.
func NewLayerError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindLayer,
		Op:        op,
		Component: "layer-processor",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a plain SyncError without a kind.
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a SyncError with component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable reports whether an error is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsKind reports whether an error is a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}

// IsAuth reports whether an error is an authentication failure.
func IsAuth(err error) bool {
	return IsKind(err, KindAuth)
}

// IsFatal reports whether an error aborts the whole cycle rather than being
// recorded against a single record.
func IsFatal(err error) bool {
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		return true // unknown errors are treated as fatal
	}
	switch syncErr.Kind {
	case KindGeometry, KindFieldMapping, KindLayer:
		return false
	default:
		return true
	}
}

// KindOf returns the kind of a SyncError, or an empty kind for other errors.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}
