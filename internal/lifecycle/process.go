package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the recorded process does not exist
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when a process or unit outlives the stop deadline
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// exitPoll is how often a stopping instance is checked for
const exitPoll = 100 * time.Millisecond

// Alive reports whether pid names an existing process. kill(2) with signal 0 checks
// existence only; EPERM means the process exists under another user.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	switch err := syscall.Kill(pid, 0); {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		return true
	default:
		return false
	}
}

// awaitGone blocks until alive reports pid gone or until timeout
func awaitGone(pid int, timeout time.Duration, alive func(int) bool) error {
	ticker := time.NewTicker(exitPoll)
	defer ticker.Stop()
	expired := time.After(timeout)

	for alive(pid) {
		select {
		case <-expired:
			return ErrShutdownTimeout
		case <-ticker.C:
		}
	}
	return nil
}

// StopProcess sends SIGTERM to the instance recorded in the PID file at path and
// waits for it to exit. It returns the PID that was stopped.
func StopProcess(path string, timeout time.Duration) (int, error) {
	pid, err := NewPIDFile(path).Read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("%w: no PID file at %s", ErrProcessNotRunning, path)
	case err != nil:
		return 0, err
	}

	if !Alive(pid) {
		return pid, fmt.Errorf("%w: pid %d", ErrProcessNotRunning, pid)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if err := awaitGone(pid, timeout, Alive); err != nil {
		return pid, fmt.Errorf("pid %d: %w", pid, err)
	}
	return pid, nil
}
