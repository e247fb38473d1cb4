// Package lifecycle enforces a single running instance through a PID file and supervises
// the relay between start and stop.
package lifecycle

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrInvalidPID is returned when the PID file does not hold a positive decimal number
var ErrInvalidPID = errors.New("invalid PID in file")

// PIDFile is the on-disk record of the running instance
type PIDFile struct {
	path string
}

// NewPIDFile returns a handle for path; nothing is touched on disk
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location
func (f *PIDFile) Path() string {
	return f.path
}

// Read returns the recorded PID. A missing file is reported with an error matching os.ErrNotExist.
func (f *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", f.path, err)
	}
	return parsePID(bytes.TrimSpace(data))
}

func parsePID(text []byte) (int, error) {
	pid, err := strconv.ParseInt(string(text), 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, text)
	}
	return int(pid), nil
}

// Write replaces the file with pid as bare decimal text. The new content is renamed
// into place so a concurrent Read sees the old record or the new one, never a prefix.
func (f *PIDFile) Write(pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = tmp.WriteString(strconv.Itoa(pid))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644) // #nosec G302 - PID files are world readable
	}
	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Remove deletes the file; a file that is already gone is not an error
func (f *PIDFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}
