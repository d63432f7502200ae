package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol package.
var (
	// ErrUnknownType indicates a message whose "type" is not part of the protocol.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrMalformed indicates a message that is not valid JSON or lacks a required field.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrNilMessage is returned when encoding a nil Message.
	ErrNilMessage = errors.New("protocol: nil message")
)

// DecodeError describes why an inbound message was discarded.
type DecodeError struct {
	// Type is the message type, if one could be read.
	Type string

	// Reason is a short human-readable explanation.
	Reason string

	// Err is ErrUnknownType or ErrMalformed, possibly wrapping a JSON error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: decode %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("protocol: decode: %s", e.Reason)
}

// Unwrap returns the underlying sentinel.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsUnknownType returns true if err was caused by an unrecognized message type.
func IsUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownType)
}

// IsMalformed returns true if err was caused by a structurally invalid payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

func malformed(msgType MessageType, reason string, cause error) *DecodeError {
	err := ErrMalformed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrMalformed, cause)
	}
	return &DecodeError{Type: string(msgType), Reason: reason, Err: err}
}
