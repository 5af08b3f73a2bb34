package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNoListener      = errors.New("no listener")
	ErrListenerClosed  = errors.New("listener closed")
	ErrNotSupported    = errors.New("not supported by backend")
	ErrInvalidPriority = errors.New("priority must be nil, a number or a string")
)

type (
	// RegistrationError is returned at subscribe time when the store refuses
	// the registration.
	RegistrationError struct {
		Location Location
		Type     EventType
		Err      error
	}

	// OperationError carries the store's error for a one-shot operation.
	OperationError struct {
		Op  string
		Err error
	}

	TransactionError struct {
		Location Location
		Err      error
	}

	AuthError struct {
		Err error
	}
)

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s on %s: %v", e.Type, e.Location, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction on %s: %v", e.Location, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// classify wraps a raw store error as an OperationError unless it already
// belongs to the taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		opErr   *OperationError
		txErr   *TransactionError
		authErr *AuthError
	)
	if errors.As(err, &opErr) || errors.As(err, &txErr) || errors.As(err, &authErr) {
		return err
	}
	return &OperationError{Op: op, Err: err}
}
