package roam

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by the state machine.
var (
	// ErrNoSuchVdev reports a request against a connection that was never
	// provisioned.
	ErrNoSuchVdev = errors.New("no such vdev")
	// ErrNoTriggers reports an attempt to initialize or enable roaming with
	// an empty trigger bitmap.
	ErrNoTriggers = errors.New("no roam triggers configured")
	// ErrDisallowed reports that configuration, an active veto or the
	// concurrency policy forbids roam offload.
	ErrDisallowed = errors.New("roam offload disallowed")
	// ErrCommandRejected reports that the command channel refused a command.
	ErrCommandRejected = errors.New("command rejected")
	// ErrResourceUnavailable reports a transient resource failure in the
	// command channel. Channels wrap it to mark retryable failures.
	ErrResourceUnavailable = errors.New("resource unavailable")
)

// A CommandError is returned when the command channel did not accept a
// firmware command. The connection keeps the state it had before the
// command was issued.
type CommandError struct {
	Kind CommandKind
	Vdev VdevID
	// Code is ErrCommandRejected or ErrResourceUnavailable.
	Code error
	// Err is the error reported by the channel.
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("roam: %s on vdev %d: %v: %v", e.Kind, e.Vdev, e.Code, e.Err)
}

// Unwrap allows errors.Is to match both the normalized code and the
// channel's own error.
func (e *CommandError) Unwrap() []error {
	return []error{e.Code, e.Err}
}

// Temporary reports whether err is a transient channel failure that the
// caller may retry. The state machine itself never retries.
func Temporary(err error) bool {
	return errors.Is(err, ErrResourceUnavailable)
}

// commandError normalizes a channel error.
func commandError(kind CommandKind, vdev VdevID, err error) *CommandError {
	code := ErrCommandRejected
	if errors.Is(err, ErrResourceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		code = ErrResourceUnavailable
	}
	return &CommandError{Kind: kind, Vdev: vdev, Code: code, Err: err}
}
