package errors

// WrapOpComponent wraps an error with consistent Op and Component
// propagation. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return &SyncError{Op: op, Component: component, Err: err}
}

// WrapOpComponentKind wraps an error with Op, Component, and Kind. The
// Retryable flag follows the kind's propagation policy. If err is nil,
// returns nil.
func WrapOpComponentKind(err error, op Operation, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Kind:      kind,
		Err:       err,
		Retryable: kind == KindNetwork || kind == KindServer,
	}
}
