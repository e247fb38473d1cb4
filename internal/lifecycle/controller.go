package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ibs-source/krolyk/internal/log"
	"github.com/ibs-source/krolyk/internal/shutdown"
)

// ErrAlreadyRunning is returned when the PID file names a live process
var ErrAlreadyRunning = errors.New("already running")

// Unit is the supervised work. Run must return soon after flag stops.
type Unit interface {
	Run(flag *shutdown.Flag) error
}

// State of a Controller
type State int32

// Controller states
const (
	StateIdle State = iota
	StateRunning
	StateRejected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRejected:
		return "rejected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Controller owns the PID file and the shutdown flag of one supervised unit
type Controller struct {
	pidFile     *PIDFile
	unit        Unit
	flag        *shutdown.Flag
	stopTimeout time.Duration
	log         *log.Logger

	alive func(pid int) bool
	pid   int

	state   atomic.Int32
	done    chan struct{}
	unitErr error
}

// NewController builds an idle controller; nothing runs until Start
func NewController(pidPath string, unit Unit, stopTimeout time.Duration, logger *log.Logger) *Controller {
	return &Controller{
		pidFile:     NewPIDFile(pidPath),
		unit:        unit,
		flag:        shutdown.New(),
		stopTimeout: stopTimeout,
		log:         logger,
		alive:       Alive,
		pid:         os.Getpid(),
		done:        make(chan struct{}),
	}
}

// Flag returns the flag shared with the unit
func (c *Controller) Flag() *shutdown.Flag {
	return c.flag
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// CheckRunning reports ErrAlreadyRunning when the PID file at path names a live process
// other than self. A missing file is not an error; an unreadable or malformed one is.
func CheckRunning(path string, self int) error {
	return checkPIDFile(NewPIDFile(path), Alive, self)
}

func checkPIDFile(f *PIDFile, alive func(int) bool, self int) error {
	pid, err := f.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != self && alive(pid) {
		return fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, f.Path())
	}
	return nil
}

// Start claims the PID file and launches the unit. On a conflict or a PID file error
// the controller is rejected and the file is left as it was.
func (c *Controller) Start() error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("cannot start controller in state %s", c.State())
	}

	if err := checkPIDFile(c.pidFile, c.alive, c.pid); err != nil {
		c.state.Store(int32(StateRejected))
		return err
	}
	if err := c.pidFile.Write(c.pid); err != nil {
		c.state.Store(int32(StateRejected))
		return err
	}
	c.log.Info("Started with pid %d (%s)", c.pid, c.pidFile.Path())

	go c.supervise()
	return nil
}

// supervise runs the unit; a unit that returns on its own stops the controller too
func (c *Controller) supervise() {
	defer close(c.done)
	c.unitErr = c.unit.Run(c.flag)
	if c.flag.Stop() && c.unitErr != nil {
		c.log.Error("Relay exited: %v", c.unitErr)
	}
}

// Stop asks the unit to stop; Wait observes the result
func (c *Controller) Stop() {
	if c.flag.Stop() {
		c.log.Info("Stopping")
	}
}

// Wait blocks until the flag stops, then gives the unit stopTimeout to return and
// removes the PID file. It returns the unit's error, or ErrShutdownTimeout.
func (c *Controller) Wait() error {
	if c.State() != StateRunning {
		return fmt.Errorf("cannot wait on controller in state %s", c.State())
	}

	<-c.flag.Done()

	var err error
	timer := time.NewTimer(c.stopTimeout)
	select {
	case <-c.done:
		timer.Stop()
		err = c.unitErr
	case <-timer.C:
		err = fmt.Errorf("relay did not stop within %s: %w", c.stopTimeout, ErrShutdownTimeout)
	}

	if rmErr := c.pidFile.Remove(); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	c.state.Store(int32(StateStopped))
	c.log.Info("Stopped")
	return err
}

// Run is Start followed by Wait
func (c *Controller) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}
