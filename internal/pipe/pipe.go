// Package pipe owns the write handle to the monitoring engine's command pipe.
package pipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrClosed is reported by Write after Close
var ErrClosed = errors.New("pipe writer closed")

// Result is the outcome of a single Write
type Result struct {
	Written int
	Err     error
}

// OK reports whether the line was written and flushed
func (r Result) OK() bool {
	return r.Err == nil
}

// Writer writes lines to a long-lived handle, flushing after each line.
// It is not safe for concurrent use; the relay is its only caller.
type Writer struct {
	name   string
	file   io.WriteCloser
	buf    *bufio.Writer
	fifo   bool
	closed bool
}

// Open opens path read-write so that opening a FIFO does not block until a reader attaches.
// A missing path is created as a regular file.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o660) // #nosec G304 - path is from config
	if err != nil {
		return nil, fmt.Errorf("failed to open pipe %s: %w", path, err)
	}

	w := NewWriter(f, path)
	if info, err := f.Stat(); err == nil {
		w.fifo = info.Mode()&os.ModeNamedPipe != 0
	}
	return w, nil
}

// NewWriter wraps an already open handle
func NewWriter(wc io.WriteCloser, name string) *Writer {
	return &Writer{
		name: name,
		file: wc,
		buf:  bufio.NewWriter(wc),
	}
}

// Name returns the path or label the writer was created with
func (w *Writer) Name() string {
	return w.name
}

// IsNamedPipe reports whether the opened path is a FIFO
func (w *Writer) IsNamedPipe() bool {
	return w.fifo
}

// Write writes line and flushes it. Errors are reported in the Result, never panicked.
func (w *Writer) Write(line []byte) Result {
	if w.closed {
		return Result{Err: ErrClosed}
	}

	n, err := w.buf.Write(line)
	if err == nil {
		err = w.buf.Flush()
	}
	if err != nil {
		// bufio keeps the first error forever; drop the partial line so later writes can succeed.
		// Nothing of the line is known to have reached the reader.
		w.buf.Reset(w.file)
		return Result{Err: fmt.Errorf("write to %s: %w", w.name, err)}
	}

	return Result{Written: n}
}

// Close releases the handle; further writes fail with ErrClosed
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
