package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNotAdmin is returned when a privileged command is invoked by a user who
// could not be proven to be a group administrator.
var ErrNotAdmin = errors.New("admin only")

// ErrNotFound is returned when a lookup target does not exist.
var ErrNotFound = errors.New("not found")

// UsageError reports a malformed or missing command argument. Usage holds the
// hint shown to the invoking user.
type UsageError struct {
	Usage  string
	Reason string
}

func (e *UsageError) Error() string {
	if e.Reason == "" {
		return "usage: " + e.Usage
	}
	return e.Reason + "; usage: " + e.Usage
}

// NewUsageError builds a UsageError.
func NewUsageError(usage, reason string) *UsageError {
	return &UsageError{Usage: usage, Reason: reason}
}

// PlatformError wraps a failed call to the chat platform.
type PlatformError struct {
	Op  string
	Err error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// WrapPlatform returns nil when err is nil, otherwise a PlatformError for op.
func WrapPlatform(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PlatformError{Op: op, Err: err}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
