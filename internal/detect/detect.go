// Package detect defines the detection client contract and its remote
// implementations.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/pkg/errors"
)

// Detector submits one encoded image and returns the structured result.
// Implementations must be safe for use by a single caller at a time and must
// respect ctx cancellation and deadlines.
type Detector interface {
	Detect(ctx context.Context, image []byte) (types.DetectionResult, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, image []byte) (types.DetectionResult, error)

func (f DetectorFunc) Detect(ctx context.Context, image []byte) (types.DetectionResult, error) {
	return f(ctx, image)
}

// RemoteServiceError is returned for every failed detection call: network,
// authorization, quota, malformed responses and timeouts alike.
type RemoteServiceError struct {
	Op  string
	Err error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("remote service: %s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Timeout reports whether the call was abandoned because its deadline passed.
func (e *RemoteServiceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// AsRemote wraps err as a RemoteServiceError unless it already is one.
func AsRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return err
	}
	return &RemoteServiceError{Op: op, Err: err}
}

type timeoutDetector struct {
	d    time.Duration
	next Detector
}

// WithTimeout bounds every call to next by d. A zero or negative d disables
// the bound and only the caller's context applies.
func WithTimeout(d time.Duration, next Detector) Detector {
	if d <= 0 {
		return next
	}
	return &timeoutDetector{d: d, next: next}
}

func (t *timeoutDetector) Detect(ctx context.Context, image []byte) (types.DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	res, err := t.next.Detect(ctx, image)
	if err != nil {
		return types.DetectionResult{}, AsRemote("detect", err)
	}
	// Answers that arrive after the deadline are discarded
	if ctx.Err() != nil {
		return types.DetectionResult{}, &RemoteServiceError{Op: "detect", Err: ctx.Err()}
	}
	return res, nil
}
