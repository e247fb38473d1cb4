package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ErrStartTimeout is returned when a spawned instance never claims its PID file
var ErrStartTimeout = errors.New("instance did not report ready")

// Spawner starts detached copies of a binary
type Spawner struct {
	// Env is the environment of the child process
	Env []string
}

// NewSpawner returns a spawner that passes on the current environment
func NewSpawner() *Spawner {
	return &Spawner{Env: os.Environ()}
}

// WithEnv appends variables to the child environment
func (s *Spawner) WithEnv(env ...string) *Spawner {
	s.Env = append(s.Env, env...)
	return s
}

// Child is a detached process started by a Spawner
type Child struct {
	PID     int
	LogPath string

	exited  chan struct{}
	exitErr error
}

// Done is closed once the child has exited
func (c *Child) Done() <-chan struct{} {
	return c.exited
}

// SpawnDetached starts binary in its own session with no stdin and both output streams
// appended to logPath. The child is reaped in the background so an early exit is seen.
func (s *Spawner) SpawnDetached(binary string, args []string, logPath string) (*Child, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 - path is from config
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = out.Close() }()

	cmd := &exec.Cmd{
		Path:        binary,
		Args:        append([]string{binary}, args...),
		Env:         s.Env,
		Stdout:      out,
		Stderr:      out,
		SysProcAttr: &syscall.SysProcAttr{Setsid: true},
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	child := &Child{PID: cmd.Process.Pid, LogPath: logPath, exited: make(chan struct{})}
	go func() {
		child.exitErr = cmd.Wait()
		close(child.exited)
	}()
	return child, nil
}

// WaitReady waits until the PID file names the child and the child is still alive
// grace later. It fails if the child exits first or timeout passes.
func (c *Child) WaitReady(pidFile *PIDFile, timeout, grace time.Duration) error {
	ticker := time.NewTicker(exitPoll)
	defer ticker.Stop()
	expired := time.After(timeout)

	for {
		if pid, err := pidFile.Read(); err == nil && pid == c.PID {
			break
		}
		select {
		case <-c.exited:
			return c.exitedEarly()
		case <-expired:
			return fmt.Errorf("pid %d: %w within %s, see %s", c.PID, ErrStartTimeout, timeout, c.LogPath)
		case <-ticker.C:
		}
	}

	select {
	case <-c.exited:
		return c.exitedEarly()
	case <-time.After(grace):
		return nil
	}
}

func (c *Child) exitedEarly() error {
	if c.exitErr != nil {
		return fmt.Errorf("pid %d exited during startup (%v), see %s", c.PID, c.exitErr, c.LogPath)
	}
	return fmt.Errorf("pid %d exited during startup, see %s", c.PID, c.LogPath)
}
