// Package scheduler decides, frame by frame, whether to run a remote analysis
// and produces the frame to display.
package scheduler

import (
	"context"
	"image"
	"time"

	"github.com/andresmejia3/vigil/internal/detect"
	"github.com/andresmejia3/vigil/internal/encode"
	"github.com/andresmejia3/vigil/internal/metrics"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMinInterval is the shortest gap between two successful analyses.
const DefaultMinInterval = 2 * time.Second

// Decision is what Evaluate did with a frame.
type Decision int

const (
	PassThrough Decision = iota
	RateLimited
	Analyzed
	EncodeFailed
	DetectFailed
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass-through"
	case RateLimited:
		return "rate-limited"
	case Analyzed:
		return "analyzed"
	case EncodeFailed:
		return "encode-failed"
	case DetectFailed:
		return "detect-failed"
	}
	return "unknown"
}

// Failed reports whether an analysis was attempted and did not complete.
func (d Decision) Failed() bool {
	return d == EncodeFailed || d == DetectFailed
}

// State is the scheduling state carried between frames. It is a plain value:
// Evaluate takes one and returns its successor.
type State struct {
	FrameCounter int
	// LastAnalysis is the trigger time of the last successful analysis.
	// The zero value means no analysis has happened yet.
	LastAnalysis time.Time
	// CadenceN triggers an analysis every N frames. Zero or negative
	// disables periodic analysis; only manual triggers remain.
	CadenceN    int
	MinInterval time.Duration
	// Analyses counts successful analyses so far
	Analyses int
}

func NewState(cadence int, minInterval time.Duration) State {
	return State{CadenceN: cadence, MinInterval: minInterval}
}

// Triggered reports whether frame index is due for analysis.
func (s State) Triggered(index int, manual bool) bool {
	if manual {
		return true
	}
	return s.CadenceN > 0 && index%s.CadenceN == 0
}

// Allowed reports whether enough time has passed since the last successful
// analysis.
func (s State) Allowed(now time.Time) bool {
	if s.LastAnalysis.IsZero() {
		return true
	}
	return now.Sub(s.LastAnalysis) >= s.MinInterval
}

// Decide returns PassThrough, RateLimited or Analyzed without doing any work.
func (s State) Decide(index int, manual bool, now time.Time) Decision {
	if !s.Triggered(index, manual) {
		return PassThrough
	}
	if !s.Allowed(now) {
		return RateLimited
	}
	return Analyzed
}

// Tick is one frame presented to the scheduler.
type Tick struct {
	Frame  image.Image
	Index  int
	Manual bool
	Now    time.Time
}

// Outcome is the result of evaluating one tick.
type Outcome struct {
	Frame    image.Image
	Decision Decision
	Result   types.DetectionResult
	Err      error
	Latency  time.Duration
}

// Renderer draws a detection result onto a frame.
type Renderer interface {
	Render(frame image.Image, res types.DetectionResult) image.Image
}

// Evaluator is anything that can turn a tick into a displayable frame.
type Evaluator interface {
	Evaluate(ctx context.Context, st State, t Tick) (State, Outcome)
}

// PassThroughEvaluator never analyzes; frames are shown as captured.
type PassThroughEvaluator struct{}

func (PassThroughEvaluator) Evaluate(_ context.Context, st State, t Tick) (State, Outcome) {
	return st, Outcome{Frame: t.Frame, Decision: PassThrough}
}

// Scheduler runs at most one analysis per tick and never lets an analysis
// failure escape: failed ticks degrade to pass-through.
type Scheduler struct {
	Encoder  encode.Encoder
	Detector detect.Detector
	Renderer Renderer
	Sink     Sink
	// Timeout bounds each remote call. Zero leaves only the caller's context.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// New wires a scheduler with a logger and no sink.
func New(enc encode.Encoder, det detect.Detector, r Renderer, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Encoder:  enc,
		Detector: det,
		Renderer: r,
		Timeout:  timeout,
		Logger:   logger.Named("scheduler"),
	}
}

func (s *Scheduler) Evaluate(ctx context.Context, st State, t Tick) (State, Outcome) {
	out := Outcome{Frame: t.Frame}

	out.Decision = st.Decide(t.Index, t.Manual, t.Now)
	switch out.Decision {
	case PassThrough:
		return st, out
	case RateLimited:
		s.Metrics.Suppressed()
		s.logger().Debug("analysis suppressed",
			zap.Int("frame", t.Index),
			zap.Bool("manual", t.Manual),
			zap.Duration("since_last", t.Now.Sub(st.LastAnalysis)))
		return st, out
	}

	if ctx.Err() != nil {
		out.Decision = PassThrough
		return st, out
	}

	payload, err := s.Encoder.Encode(t.Frame)
	if err != nil {
		var encErr *encode.Error
		if !errors.As(err, &encErr) {
			err = &encode.Error{Err: err}
		}
		out.Decision, out.Err = EncodeFailed, err
		s.Metrics.EncodeFailed()
		s.fail(t, "encode", err)
		return st, out
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	started := time.Now()
	res, err := s.Detector.Detect(callCtx, payload)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	cancel()
	out.Latency = time.Since(started)

	if err != nil {
		err = detect.AsRemote("detect", err)
		out.Decision, out.Err = DetectFailed, err
		var rse *detect.RemoteServiceError
		s.Metrics.RemoteFailed(errors.As(err, &rse) && rse.Timeout())
		s.fail(t, "detect", err)
		return st, out
	}

	st.LastAnalysis = t.Now
	st.Analyses++
	out.Result = res
	if s.Renderer != nil {
		out.Frame = s.Renderer.Render(t.Frame, res)
	}

	s.Metrics.Analyzed(out.Latency, len(res.Faces), len(res.Labels))
	s.logger().Info("analysis complete",
		zap.Int("frame", t.Index),
		zap.Bool("manual", t.Manual),
		zap.Int("faces", len(res.Faces)),
		zap.Int("labels", len(res.Labels)),
		zap.Duration("latency", out.Latency))
	s.emit(Event{
		Kind:       EventAnalysis,
		FrameIndex: t.Index,
		At:         t.Now,
		Manual:     t.Manual,
		Latency:    out.Latency,
		Count:      st.Analyses,
		Result:     res.Clone(),
	})
	return st, out
}

func (s *Scheduler) fail(t Tick, stage string, err error) {
	s.logger().Warn("analysis failed",
		zap.Int("frame", t.Index),
		zap.String("stage", stage),
		zap.Error(err))
	s.emit(Event{
		Kind:       EventFailure,
		FrameIndex: t.Index,
		At:         t.Now,
		Manual:     t.Manual,
		Stage:      stage,
		Err:        err,
	})
}

func (s *Scheduler) emit(e Event) {
	if s.Sink != nil {
		s.Sink.Emit(e)
	}
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
