package emotions

import "errors"

var (
	// ErrNotFound is returned when a preset is not found.
	ErrNotFound = errors.New("emotions: preset not found")

	// ErrUnknownTag is returned when a preset file names a tag that does not exist.
	ErrUnknownTag = errors.New("emotions: unknown tag")

	// ErrInvalidPreset is returned when a preset file is malformed.
	ErrInvalidPreset = errors.New("emotions: invalid preset data")
)
