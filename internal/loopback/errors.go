package loopback

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned by AwaitToken when the session was cancelled
// (user interrupt or context cancellation) before a token arrived. It is
// distinct from TimeoutError so callers can word their messages differently.
var ErrCancelled = errors.New("login cancelled")

// NoAvailablePortError reports that every candidate port in the mandated
// range was already in use.
type NoAvailablePortError struct {
	Range PortRange
}

func (e *NoAvailablePortError) Error() string {
	return fmt.Sprintf("no available loopback port in range %d-%d", e.Range.Start, e.Range.End())
}

// BindError reports an unexpected OS-level bind failure, anything other
// than "address in use". It is fatal to the session and never retried.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that no valid token arrived within the bounded wait.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no token received within %s", e.Elapsed)
}
