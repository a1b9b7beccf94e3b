// Package worker runs a local detection engine as a child process and talks
// to it over pipes.
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/detect"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils" // Using the SafeCommand wrapper
	"github.com/pkg/errors"
)

// maxResponse guards against a corrupted length header
const maxResponse = 64 * 1024 * 1024

// Engine is a detect.Detector backed by a child process.
//
// Protocol: the engine reads [uint32 length][jpeg] from stdin and answers on
// FD 3 with [uint32 length][json], where the JSON is a types.DetectionResult
// or {"error": "..."}. Lengths are big endian.
type Engine struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu     sync.Mutex
	broken error
}

// NewEngine starts command (program and arguments) as a detection engine.
func NewEngine(ctx context.Context, command []string) (*Engine, error) {
	if len(command) == 0 {
		return nil, errors.New("empty engine command")
	}
	proc := utils.NewSafeCommand(ctx, command[0], command[1:]...)

	// Create a side-channel pipe (FD 3) so engine logs on stdout/stderr never corrupt the protocol
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipe")
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrapf(err, "engine %q failed to start", command[0])
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Engine{Cmd: proc, Stdin: stdin, DataPipe: r}, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Communicate sends one request and waits for its response. Both directions
// honour ctx when the pipes support deadlines. Any transport failure leaves
// the stream out of step, so the engine refuses further requests.
func (e *Engine) Communicate(ctx context.Context, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.broken != nil {
		return nil, errors.Wrap(e.broken, "engine unusable after earlier failure")
	}
	resp, err := e.roundTrip(ctx, data)
	if err != nil {
		e.broken = err
		return nil, err
	}
	return resp, nil
}

// bound applies ctx's deadline through set and expires it as soon as ctx is
// done. The returned func clears the deadline again.
func bound(ctx context.Context, set func(time.Time) error) func() {
	if d, has := ctx.Deadline(); has {
		set(d)
	}
	stop := context.AfterFunc(ctx, func() { set(time.Now()) })
	return func() {
		stop()
		set(time.Time{})
	}
}

// pipeErr reports a pipe failure caused by ctx as the context error.
func pipeErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.Wrap(context.DeadlineExceeded, msg)
	}
	return errors.Wrap(err, msg)
}

func (e *Engine) roundTrip(ctx context.Context, data []byte) ([]byte, error) {
	if dl, ok := e.Stdin.(writeDeadliner); ok {
		defer bound(ctx, dl.SetWriteDeadline)()
	}
	if dl, ok := e.DataPipe.(readDeadliner); ok {
		defer bound(ctx, dl.SetReadDeadline)()
	}

	// Protocol: [Length][Data]
	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, pipeErr(ctx, err, "writing request header")
	}
	if _, err := e.Stdin.Write(data); err != nil {
		return nil, pipeErr(ctx, err, "writing request body") // an engine that stopped reading stalls here
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(e.DataPipe, header); err != nil {
		return nil, pipeErr(ctx, err, "reading response header") // This is where an engine crash shows up
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(e.DataPipe, respBody); err != nil {
		return nil, pipeErr(ctx, err, "reading response body")
	}
	return respBody, nil
}

// Detect implements detect.Detector.
func (e *Engine) Detect(ctx context.Context, image []byte) (types.DetectionResult, error) {
	resp, err := e.Communicate(ctx, image)
	if err != nil {
		return types.DetectionResult{}, &detect.RemoteServiceError{Op: "engine", Err: err}
	}

	var errorResult types.ErrorResult
	if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
		return types.DetectionResult{}, &detect.RemoteServiceError{Op: "engine", Err: fmt.Errorf("engine error: %s", errorResult.Error)}
	}

	var res types.DetectionResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return types.DetectionResult{}, &detect.RemoteServiceError{Op: "engine", Err: errors.Wrap(err, "malformed engine response")}
	}
	return res, nil
}

// Close shuts the engine down and waits for it to exit.
func (e *Engine) Close() error {
	e.Stdin.Close()
	e.DataPipe.Close()
	if e.Cmd == nil {
		return nil
	}
	if err := e.Cmd.Wait(); err != nil {
		if logs := e.Cmd.Logs(); logs != "" {
			return errors.Wrapf(err, "engine exited: %s", logs)
		}
		return errors.Wrap(err, "engine exited")
	}
	return nil
}
