// Package capture collects what one evaluation writes to stdout and stderr.
//
// Each evaluation gets its own Capture and hands Stdout()/Stderr() to the
// interpreter as plain io.Writers. Nothing touches os.Stdout, so two programs
// running at the same time can never end up in each other's buffers.
package capture

import (
	"bytes"
	"sync"
)

// NoOutput is reported in place of an empty stdout.
const NoOutput = "No output"

// Stream names passed to an Observer.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Observer is told about every chunk as it is written. Used for streaming
// output over a WebSocket while the buffers still hold the full transcript.
type Observer func(stream string, chunk []byte)

// Option configures a Capture.
type Option func(*Capture)

// WithObserver registers fn to receive each write.
func WithObserver(fn Observer) Option {
	return func(c *Capture) { c.observer = fn }
}

// Capture owns the stdout and stderr buffers of a single evaluation.
type Capture struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	observer Observer
	released bool
}

// New creates an empty Capture.
func New(opts ...Option) *Capture {
	c := &Capture{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stdout returns the writer for standard output.
func (c *Capture) Stdout() *Writer { return &Writer{c: c, stream: StreamStdout} }

// Stderr returns the writer for standard error.
func (c *Capture) Stderr() *Writer { return &Writer{c: c, stream: StreamStderr} }

// Writer appends to one of the Capture's buffers.
type Writer struct {
	c      *Capture
	stream string
}

// Write implements io.Writer. Writes after Release are discarded.
func (w *Writer) Write(p []byte) (int, error) {
	c := w.c
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return len(p), nil
	}
	if w.stream == StreamStderr {
		c.stderr.Write(p)
	} else {
		c.stdout.Write(p)
	}
	obs := c.observer
	c.mu.Unlock()

	if obs != nil && len(p) > 0 {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		obs(w.stream, chunk)
	}
	return len(p), nil
}

// WriteString implements io.StringWriter.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Result is the verbatim content of both buffers, normalised for the API:
// empty stdout becomes NoOutput, empty stderr becomes nil.
type Result struct {
	Output string
	Error  *string
}

// Result reads both buffers.
func (c *Capture) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Output: c.stdout.String()}
	if res.Output == "" {
		res.Output = NoOutput
	}
	if c.stderr.Len() > 0 {
		s := c.stderr.String()
		res.Error = &s
	}
	return res
}

// Release drops both buffers. Later writes are ignored.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.released = true
	c.stdout = bytes.Buffer{}
	c.stderr = bytes.Buffer{}
}
