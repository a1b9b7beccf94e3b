// Package session runs the display loop: read a frame, poll the user, let
// the scheduler decide on analysis, caption and present the result.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/display"
	"github.com/andresmejia3/vigil/internal/input"
	"github.com/andresmejia3/vigil/internal/metrics"
	"github.com/andresmejia3/vigil/internal/overlay"
	"github.com/andresmejia3/vigil/internal/scheduler"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultCaption is the instruction line drawn on every frame.
const DefaultCaption = "Press SPACE to analyze, Q to quit"

type Status int32

const (
	Idle Status = iota
	Running
	Terminated
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	}
	return "TERMINATED"
}

// Reason says why a session stopped.
type Reason string

const (
	ReasonQuit          Reason = "quit"
	ReasonStreamEnded   Reason = "stream-ended"
	ReasonSourceError   Reason = "source-error"
	ReasonInterrupted   Reason = "interrupted"
	ReasonSurfaceClosed Reason = "surface-closed"
	ReasonUnavailable   Reason = "device-unavailable"
)

// Summary is what a finished session reports.
type Summary struct {
	ID          string
	Source      string
	Started     time.Time
	Ended       time.Time
	Frames      int
	Analyses    int
	Failures    int
	RateLimited int
	CadenceN    int
	Reason      Reason
	// Cause is the frame source error behind ReasonSourceError
	Cause error
}

func (s Summary) Duration() time.Duration { return s.Ended.Sub(s.Started) }

// Session owns its source and surface: both are closed when Run returns,
// whatever the outcome.
type Session struct {
	Source    capture.Source
	Surface   display.Surface
	Input     <-chan input.Event
	Evaluator scheduler.Evaluator
	// State is the initial scheduling state (cadence and minimum interval)
	State   scheduler.State
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Caption is drawn above the frame counter. Empty disables captions.
	Caption string

	status atomic.Int32
}

func (s *Session) Status() Status { return Status(s.status.Load()) }

// Run drives the loop until the user quits, the stream ends, the source fails
// or ctx is cancelled. Only an unavailable device and teardown failures are
// returned as errors; everything else is reported in the Summary.
func (s *Session) Run(ctx context.Context) (sum Summary, err error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")
	eval := s.Evaluator
	if eval == nil {
		eval = scheduler.PassThroughEvaluator{}
	}
	surface := s.Surface
	if surface == nil {
		surface = display.Discard{}
	}

	sum.Source = s.Source.Name()
	sum.Started = clk.Now()
	sum.ID = utils.GenerateSessionID(sum.Source, sum.Started)
	sum.CadenceN = s.State.CadenceN

	if openErr := s.Source.Open(ctx); openErr != nil {
		sum.Reason = ReasonUnavailable
		sum.Ended = clk.Now()
		s.status.Store(int32(Terminated))
		return sum, multierr.Append(errors.Wrap(openErr, "opening frame source"), surface.Close())
	}

	s.status.Store(int32(Running))
	logger.Info("session started",
		zap.String("id", sum.ID[:12]),
		zap.String("source", sum.Source),
		zap.Int("cadence", s.State.CadenceN),
		zap.Duration("min_interval", s.State.MinInterval))

	st := s.State
	defer func() {
		err = multierr.Combine(
			errors.Wrap(s.Source.Close(), "closing frame source"),
			errors.Wrap(surface.Close(), "closing display"),
		)
		sum.Frames = st.FrameCounter
		sum.Ended = clk.Now()
		s.status.Store(int32(Terminated))
		logger.Info("session ended",
			zap.String("reason", string(sum.Reason)),
			zap.Int("frames", sum.Frames),
			zap.Int("analyses", sum.Analyses),
			zap.Int("failures", sum.Failures),
			zap.Int("rate_limited", sum.RateLimited),
			zap.Duration("duration", sum.Duration()))
	}()

	for {
		if ctx.Err() != nil {
			sum.Reason = ReasonInterrupted
			return sum, nil
		}

		frame, readErr := s.Source.Read(ctx)
		if readErr != nil {
			switch {
			case ctx.Err() != nil:
				sum.Reason = ReasonInterrupted
			case errors.Is(readErr, capture.ErrStreamEnded):
				sum.Reason = ReasonStreamEnded
			default:
				sum.Reason, sum.Cause = ReasonSourceError, readErr
				logger.Error("frame source failed", zap.Error(readErr))
			}
			return sum, nil
		}

		analyze, quit := input.Poll(s.Input)
		if quit {
			sum.Reason = ReasonQuit
			return sum, nil
		}

		var out scheduler.Outcome
		st, out = eval.Evaluate(ctx, st, scheduler.Tick{
			Frame:  frame,
			Index:  st.FrameCounter,
			Manual: analyze,
			Now:    clk.Now(),
		})
		switch {
		case out.Decision == scheduler.Analyzed:
			sum.Analyses++
		case out.Decision == scheduler.RateLimited:
			sum.RateLimited++
		case out.Decision.Failed():
			sum.Failures++
		}
		st.FrameCounter++

		shown := out.Frame
		if s.Caption != "" {
			shown = overlay.Caption(shown, s.Caption, fmt.Sprintf("Frame: %d", st.FrameCounter))
		}
		if showErr := surface.Show(shown); showErr != nil {
			if errors.Is(showErr, display.ErrClosed) {
				sum.Reason = ReasonSurfaceClosed
				return sum, nil
			}
			s.Metrics.DisplayFailed()
			logger.Warn("display failed", zap.Int("frame", st.FrameCounter), zap.Error(showErr))
		}
		s.Metrics.FrameShown()
	}
}
