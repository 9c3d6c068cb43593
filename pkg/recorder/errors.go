package recorder

import (
	"errors"
	"strings"
)

// ErrAlreadyRecording guards against starting a second concurrent session.
var ErrAlreadyRecording = errors.New("a recording session is already active")

// ErrNotRecording guards operations that require an active session.
var ErrNotRecording = errors.New("no recording session is active")

// ErrNoStrategyAvailable indicates no primary capture strategy reported
// itself available.
var ErrNoStrategyAvailable = errors.New("no capture strategy available")

// ErrPermissionRequired indicates screen recording permission was denied.
var ErrPermissionRequired = errors.New("screen recording permission required")

type permissionError struct {
	message  string
	guidance string
}

func (e *permissionError) Error() string {
	if e.guidance == "" {
		return e.message
	}
	return e.message + ": " + e.guidance
}

func (e *permissionError) Is(target error) bool {
	return target == ErrPermissionRequired
}

func newPermissionError(message, guidance string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrPermissionRequired.Error()
	}
	return &permissionError{message: trimmed, guidance: strings.TrimSpace(guidance)}
}
