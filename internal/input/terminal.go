package input

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when stdin is not an interactive terminal.
var ErrNotTerminal = errors.New("not a terminal")

// Terminal turns single key presses on a raw-mode terminal into events.
type Terminal struct {
	fd     int
	old    *term.State
	events chan Event
	outs   []*NewlineWriter
}

// OpenTerminal switches f to raw mode and starts reading keys from it.
// outs are switched to CRLF line endings until Close restores the previous
// terminal state.
func OpenTerminal(f *os.File, outs ...*NewlineWriter) (*Terminal, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.Wrap(err, "entering raw mode")
	}
	t := &Terminal{fd: fd, old: old, events: make(chan Event, 16), outs: outs}
	for _, o := range outs {
		o.Raw.Store(true)
	}
	go ReadKeys(f, t.events)
	return t, nil
}

func (t *Terminal) Events() <-chan Event { return t.events }

func (t *Terminal) Close() error {
	if t.old == nil {
		return nil
	}
	err := term.Restore(t.fd, t.old)
	t.old = nil
	for _, o := range t.outs {
		o.Raw.Store(false)
	}
	return err
}

// NewlineWriter writes "\r\n" for every "\n" while Raw is set. Raw mode turns
// off output post-processing, so plain newlines would not return the carriage.
type NewlineWriter struct {
	W   io.Writer
	Raw atomic.Bool
}

func NewNewlineWriter(w io.Writer) *NewlineWriter { return &NewlineWriter{W: w} }

func (n *NewlineWriter) Write(p []byte) (int, error) {
	if !n.Raw.Load() {
		return n.W.Write(p)
	}
	if _, err := n.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadKeys reads r one byte at a time and forwards recognised keys to out.
// It closes out when r is exhausted. The reading goroutine never blocks on a
// slow consumer.
func ReadKeys(r io.Reader, out chan<- Event) {
	defer close(out)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			if e, ok := FromKey(int(buf[0])); ok {
				Send(out, e)
			}
		}
		if err != nil {
			return
		}
	}
}
