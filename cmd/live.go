package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/capture/cvcam"
	"github.com/andresmejia3/vigil/internal/detect"
	"github.com/andresmejia3/vigil/internal/display"
	"github.com/andresmejia3/vigil/internal/display/cvwindow"
	"github.com/andresmejia3/vigil/internal/encode"
	"github.com/andresmejia3/vigil/internal/input"
	"github.com/andresmejia3/vigil/internal/overlay"
	"github.com/andresmejia3/vigil/internal/report"
	"github.com/andresmejia3/vigil/internal/scheduler"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// liveOptions holds the flags of the live command
type liveOptions struct {
	Source        string
	Backend       string
	Every         int
	MinInterval   time.Duration
	Timeout       time.Duration
	Detector      string
	EngineCmd     string
	Displays      []string
	HTTPAddr      string
	Record        string
	RecordFPS     float64
	Labels        bool
	Width         int
	Height        int
	MaxLabels     int
	MinConfidence float64
	NoKeys        bool
	Label         string
}

var liveOpts liveOptions

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Show a live camera feed and analyze frames periodically or on demand",
	Long: `Opens a frame source and displays it continuously. Every Nth frame, or
when SPACE is pressed, the frame is sent for face and label detection and the
results are drawn onto the displayed frame. Analyses are at least
--min-interval apart. Press Q or ESC to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd.Context(), liveOpts)
	},
}

func init() {
	f := liveCmd.Flags()
	f.StringVarP(&liveOpts.Source, "source", "s", "0", "Camera index, device path, video file, image files (comma separated), or rtsp/http URL")
	f.StringVar(&liveOpts.Backend, "backend", "opencv", "Capture backend: opencv or ffmpeg")
	f.IntVarP(&liveOpts.Every, "every", "n", 60, "Analyze every Nth frame (0 = only on demand)")
	f.DurationVar(&liveOpts.MinInterval, "min-interval", scheduler.DefaultMinInterval, "Minimum time between two analyses")
	f.DurationVar(&liveOpts.Timeout, "timeout", 10*time.Second, "Upper bound for one remote analysis")
	f.StringVar(&liveOpts.Detector, "detector", "rekognition", "Detection backend: rekognition or engine")
	f.StringVar(&liveOpts.EngineCmd, "engine-cmd", "", "Command that starts a local detection engine (with --detector engine)")
	f.StringSliceVar(&liveOpts.Displays, "display", []string{"window"}, "Output surfaces: window, mjpeg, none (repeatable)")
	f.StringVar(&liveOpts.HTTPAddr, "http", "localhost:8080", "Listen address for the mjpeg display")
	f.StringVar(&liveOpts.Record, "record", "", "Also write the annotated video to this file")
	f.Float64Var(&liveOpts.RecordFPS, "record-fps", 30, "Frame rate of the recorded video")
	f.BoolVar(&liveOpts.Labels, "labels", false, "Also draw label instance boxes")
	f.IntVar(&liveOpts.Width, "width", 0, "Requested capture width (0 = device default)")
	f.IntVar(&liveOpts.Height, "height", 0, "Requested capture height (0 = device default)")
	f.IntVar(&liveOpts.MaxLabels, "max-labels", detect.DefaultRekognitionOptions.MaxLabels, "Maximum labels per analysis")
	f.Float64Var(&liveOpts.MinConfidence, "min-confidence", detect.DefaultRekognitionOptions.MinConfidence, "Minimum label confidence (0-100)")
	f.BoolVar(&liveOpts.NoKeys, "no-keys", false, "Do not read keys from the terminal")
	f.StringVar(&liveOpts.Label, "label", "", "Label stored with the session in the ledger")

	rootCmd.AddCommand(liveCmd)
}

func validateLiveFlags(opts *liveOptions) error {
	if opts.Source == "" {
		return errors.New("a --source is required")
	}
	if opts.Backend != "opencv" && opts.Backend != "ffmpeg" {
		return errors.Errorf("unknown backend %q (use opencv or ffmpeg)", opts.Backend)
	}
	if capture.Classify(opts.Source) == capture.KindStills {
		for _, p := range strings.Split(opts.Source, ",") {
			info, err := os.Stat(p)
			if err != nil {
				return errors.Wrap(err, "unable to access input image")
			}
			if info.IsDir() {
				return errors.Errorf("%s is a directory, expected an image file", p)
			}
		}
	}
	if opts.MinInterval < 0 {
		return errors.Errorf("min-interval must be >= 0, got %s", opts.MinInterval)
	}
	if opts.Timeout <= 0 {
		return errors.Errorf("timeout must be > 0, got %s", opts.Timeout)
	}
	switch opts.Detector {
	case "rekognition":
	case "engine":
		if strings.TrimSpace(opts.EngineCmd) == "" {
			return errors.New("--detector engine needs --engine-cmd")
		}
	default:
		return errors.Errorf("unknown detector %q (use rekognition or engine)", opts.Detector)
	}
	if len(opts.Displays) == 0 {
		opts.Displays = []string{"none"}
	}
	for _, d := range opts.Displays {
		switch d {
		case "window", "none":
		case "mjpeg":
			if opts.HTTPAddr == "" {
				return errors.New("--display mjpeg needs an --http address")
			}
		default:
			return errors.Errorf("unknown display %q (use window, mjpeg or none)", d)
		}
	}
	if opts.Width < 0 || opts.Height < 0 || (opts.Width == 0) != (opts.Height == 0) {
		return errors.Errorf("width and height must both be set and positive, got %dx%d", opts.Width, opts.Height)
	}
	if opts.Record != "" && opts.RecordFPS <= 0 {
		return errors.Errorf("record-fps must be > 0, got %v", opts.RecordFPS)
	}
	if opts.MaxLabels < 1 {
		return errors.Errorf("max-labels must be >= 1, got %d", opts.MaxLabels)
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 100 {
		return errors.Errorf("min-confidence must be between 0 and 100, got %v", opts.MinConfidence)
	}
	return nil
}

// newSource picks the frame source for --source and --backend.
func newSource(opts liveOptions) capture.Source {
	kind := capture.Classify(opts.Source)
	if kind == capture.KindStills {
		return capture.NewStills(strings.Split(opts.Source, ",")...)
	}
	if opts.Backend == "opencv" {
		return cvcam.New(opts.Source, opts.Width, opts.Height)
	}

	return capture.NewFFmpeg(ffmpegArgs(opts.Source, kind, opts.Width, opts.Height))
}

// ffmpegArgs maps a source onto ffmpeg input options. Camera indices become
// device nodes on Linux.
func ffmpegArgs(source string, kind capture.Kind, width, height int) utils.CaptureArgs {
	a := utils.CaptureArgs{Input: source, Width: width, Height: height}
	switch kind {
	case capture.KindCamera:
		a.Format = utils.DeviceFormat()
		if runtime.GOOS == "linux" {
			a.Input = "/dev/video" + source
		}
	case capture.KindDevice:
		a.Format = utils.DeviceFormat()
	}
	return a
}

// newDetector starts the detection backend named by kind. The returned
// function releases it.
func newDetector(ctx context.Context, kind, engineCmd string, opts detect.RekognitionOptions) (detect.Detector, func() error, error) {
	if kind == "engine" {
		eng, err := worker.NewEngine(ctx, strings.Fields(engineCmd))
		if err != nil {
			return nil, nil, errors.Wrap(err, "starting detection engine")
		}
		return eng, eng.Close, nil
	}
	rek, err := detect.NewRekognition(ctx, Cfg.Region, opts, Logger)
	if err != nil {
		return nil, nil, err
	}
	return rek, func() error { return nil }, nil
}

// outputs builds the surfaces, the input channels they produce and the
// event sinks that want scheduler events.
type outputs struct {
	surfaces []display.Surface
	inputs   []<-chan input.Event
	sinks    []scheduler.Sink
}

func newOutputs(ctx context.Context, opts liveOptions) (*outputs, error) {
	o := &outputs{}
	for _, d := range opts.Displays {
		switch d {
		case "window":
			w := cvwindow.New("vigil - " + opts.Source)
			o.surfaces = append(o.surfaces, w)
			o.inputs = append(o.inputs, w.Events())
		case "mjpeg":
			m := display.NewMJPEG(opts.HTTPAddr, Logger)
			if err := m.Start(); err != nil {
				return nil, multierr.Append(err, o.close())
			}
			fmt.Fprintf(stderr, "🌐 Streaming on http://%s/stream\n", opts.HTTPAddr)
			o.surfaces = append(o.surfaces, m)
			o.inputs = append(o.inputs, m.Events())
			o.sinks = append(o.sinks, m)
		}
	}
	if opts.Record != "" {
		o.surfaces = append(o.surfaces, display.NewRecorder(ctx, opts.Record, opts.RecordFPS))
	}
	return o, nil
}

func (o *outputs) surface() display.Surface {
	if len(o.surfaces) == 0 {
		return display.Discard{}
	}
	return display.Tee(o.surfaces...)
}

func (o *outputs) close() error {
	var err error
	for _, s := range o.surfaces {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// runLive wires a session together, runs it until it ends and records it in
// the ledger when one is configured.
func runLive(ctx context.Context, opts liveOptions) error {
	if err := validateLiveFlags(&opts); err != nil {
		return errors.Wrap(err, "invalid flags")
	}

	det, closeDet, err := newDetector(ctx, opts.Detector, opts.EngineCmd, detect.RekognitionOptions{
		MaxLabels:     opts.MaxLabels,
		MinConfidence: opts.MinConfidence,
	})
	if err != nil {
		return err
	}
	defer closeDet()

	out, err := newOutputs(ctx, opts)
	if err != nil {
		return err
	}

	inputs := out.inputs
	if !opts.NoKeys {
		term, err := input.OpenTerminal(os.Stdin, stdout, stderr)
		switch {
		case err == nil:
			defer term.Close()
			inputs = append(inputs, term.Events())
		case errors.Is(err, input.ErrNotTerminal):
			Logger.Debug("stdin is not a terminal, keys only work in the window")
		default:
			Logger.Warn("cannot read keys from terminal", zap.Error(err))
		}
	}

	mergeCtx, stopMerge := context.WithCancel(ctx)
	defer stopMerge()

	sched := scheduler.New(encode.DefaultJPEG, det, overlay.Renderer{Labels: opts.Labels}, opts.Timeout, Logger)
	sched.Sink = scheduler.Tee(append([]scheduler.Sink{report.NewConsole(stdout)}, out.sinks...)...)
	sched.Metrics = Metrics

	sess := &session.Session{
		Source:    newSource(opts),
		Surface:   out.surface(),
		Input:     input.Merge(mergeCtx, inputs...),
		Evaluator: sched,
		State:     scheduler.NewState(opts.Every, opts.MinInterval),
		Clock:     clock.New(),
		Logger:    Logger,
		Metrics:   Metrics,
		Caption:   session.DefaultCaption,
	}

	fmt.Fprintf(stderr, "🎥 Starting live analysis of %s (every %d frames, min interval %s)\n", opts.Source, opts.Every, opts.MinInterval)
	fmt.Fprintf(stderr, "⌨️  %s\n", session.DefaultCaption)

	sum, runErr := sess.Run(ctx)
	printSummary(sum)

	if err := recordSession(sum, opts.Label); err != nil {
		Logger.Warn("session not recorded", zap.Error(err))
	}
	return runErr
}

func printSummary(sum session.Summary) {
	fmt.Fprintf(stderr, "\n🏁 Session %s ended (%s) after %s\n", shortID(sum.ID), sum.Reason, sum.Duration().Round(time.Millisecond))
	fmt.Fprintf(stderr, "🖼️  Processed %d frames\n", sum.Frames)
	fmt.Fprintf(stderr, "🔍 Analyses: %d, failed: %d, rate limited: %d\n", sum.Analyses, sum.Failures, sum.RateLimited)
	if sum.Cause != nil {
		fmt.Fprintf(stderr, "⚠️  Source error: %v\n", sum.Cause)
	}
}

// recordSession writes the summary to the ledger. A session that never
// opened its source is not recorded.
func recordSession(sum session.Summary, label string) error {
	if sum.Reason == session.ReasonUnavailable {
		return nil
	}
	// The run context is likely cancelled already by Ctrl+C
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := openStore(ctx, false)
	if err != nil || db == nil {
		return err
	}
	return db.RecordSession(ctx, store.Record{
		ID:          sum.ID,
		Source:      sum.Source,
		Started:     sum.Started,
		Ended:       sum.Ended,
		Frames:      sum.Frames,
		Analyses:    sum.Analyses,
		Failures:    sum.Failures,
		RateLimited: sum.RateLimited,
		CadenceN:    sum.CadenceN,
		Reason:      string(sum.Reason),
		Label:       label,
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
