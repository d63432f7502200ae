package connection

import (
	"errors"
	"fmt"
)

// Sentinel errors for the connection package.
var (
	// ErrReconnectExhausted is reported once every reconnect attempt has failed.
	ErrReconnectExhausted = errors.New("connection: reconnect attempts exhausted")

	// ErrNotConnected indicates the transport has no open session.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrSendBufferFull indicates the outbound queue of a session is full.
	ErrSendBufferFull = errors.New("connection: send buffer full")

	// ErrRegisterFailed indicates the register message could not be written.
	ErrRegisterFailed = errors.New("connection: register failed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("connection: invalid config")
)

// TransportError wraps a failure from the underlying transport.
type TransportError struct {
	// Op is the failing operation: "dial", "read" or "write".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if err came from the transport.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
