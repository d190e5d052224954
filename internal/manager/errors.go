package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when a live server is recorded.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop when no live server is recorded.
	ErrNotRunning = errors.New("server not running")
	// ErrSpawnFailed matches every *SpawnError.
	ErrSpawnFailed = errors.New("failed to start server")
	// ErrForceStopFailed matches every *ForceStopError.
	ErrForceStopFailed = errors.New("failed to force stop server")
	// ErrNoRemote is the stop cause when no remote control client is configured.
	ErrNoRemote = errors.New("no remote control configured")
	// errStopTimeout is the cause recorded for a forced_timeout stop.
	errStopTimeout = errors.New("server did not exit before stop timeout")
)

// SpawnError reports a failed spawn of the start script.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSpawnFailed, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawnFailed, e.Err} }

// ForceStopError reports that the kill signal could not be delivered.
// The supervision record is left in place.
type ForceStopError struct {
	PID int
	Err error
}

func (e *ForceStopError) Error() string {
	return fmt.Sprintf("%s (pid %d): %v", ErrForceStopFailed, e.PID, e.Err)
}

func (e *ForceStopError) Unwrap() []error { return []error{ErrForceStopFailed, e.Err} }

// RestartError reports which restart phase failed.
type RestartError struct {
	Phase string // "stop" or "start"
	Err   error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart failed during %s: %v", e.Phase, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }
