package scheduler

import (
	"time"

	"github.com/andresmejia3/vigil/internal/types"
)

type EventKind int

const (
	EventAnalysis EventKind = iota
	EventFailure
)

// Event is the side-channel record of an analysis attempt.
type Event struct {
	Kind       EventKind
	FrameIndex int
	At         time.Time
	Manual     bool
	Latency    time.Duration
	// Count is the number of successful analyses in the session, this one
	// included. Zero for failures.
	Count  int
	Result types.DetectionResult
	// Stage is "encode" or "detect" for failures
	Stage string
	Err   error
}

// Sink receives events. Emit is called on the session goroutine and must not
// block for long.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Recorder is a Sink that keeps every event, for tests and summaries.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) { r.Events = append(r.Events, e) }

// Tee fans events out to several sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
