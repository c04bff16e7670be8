package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned by Trigger when the job is in flight.
	ErrAlreadyRunning = errors.New("already_running")
	ErrJobNotFound    = errors.New("job not found")
	ErrNotStarted     = errors.New("scheduler not started")
)

// ErrorCode maps trigger errors to the stable codes exposed to callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	default:
		return "internal"
	}
}
