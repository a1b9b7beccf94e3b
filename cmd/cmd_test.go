package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/config"
	"github.com/andresmejia3/vigil/internal/imagesrc"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/andresmejia3/vigil/internal/store"
)

func validLive() liveOptions {
	return liveOptions{
		Source:        "0",
		Backend:       "opencv",
		Every:         60,
		MinInterval:   2 * time.Second,
		Timeout:       10 * time.Second,
		Detector:      "rekognition",
		Displays:      []string{"window"},
		HTTPAddr:      "localhost:8080",
		RecordFPS:     30,
		MaxLabels:     10,
		MinConfidence: 70,
	}
}

func TestValidateLiveFlags(t *testing.T) {
	// Create a temp file for valid still input
	dir := t.TempDir()
	still := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(still, []byte("not decoded here"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(o *liveOptions)
		wantErr bool
	}{
		{name: "Valid options", mutate: func(o *liveOptions) {}},
		{name: "Manual-only cadence", mutate: func(o *liveOptions) { o.Every = 0 }},
		{name: "Negative cadence is manual-only too", mutate: func(o *liveOptions) { o.Every = -5 }},
		{name: "Zero min interval", mutate: func(o *liveOptions) { o.MinInterval = 0 }},
		{name: "Still images", mutate: func(o *liveOptions) { o.Source = still }},
		{name: "Missing still image", mutate: func(o *liveOptions) { o.Source = still + ",missing.png" }, wantErr: true},
		{name: "Still is a directory", mutate: func(o *liveOptions) { o.Source = filepath.Join(dir, "d.png"); os.Mkdir(o.Source, 0755) }, wantErr: true},
		{name: "Empty source", mutate: func(o *liveOptions) { o.Source = "" }, wantErr: true},
		{name: "Unknown backend", mutate: func(o *liveOptions) { o.Backend = "v4l" }, wantErr: true},
		{name: "Negative min interval", mutate: func(o *liveOptions) { o.MinInterval = -time.Second }, wantErr: true},
		{name: "Zero timeout", mutate: func(o *liveOptions) { o.Timeout = 0 }, wantErr: true},
		{name: "Engine without command", mutate: func(o *liveOptions) { o.Detector = "engine" }, wantErr: true},
		{name: "Engine with command", mutate: func(o *liveOptions) { o.Detector = "engine"; o.EngineCmd = "python3 engine.py" }},
		{name: "Unknown detector", mutate: func(o *liveOptions) { o.Detector = "yolo" }, wantErr: true},
		{name: "Unknown display", mutate: func(o *liveOptions) { o.Displays = []string{"window", "tv"} }, wantErr: true},
		{name: "MJPEG without address", mutate: func(o *liveOptions) { o.Displays = []string{"mjpeg"}; o.HTTPAddr = "" }, wantErr: true},
		{name: "Width without height", mutate: func(o *liveOptions) { o.Width = 640 }, wantErr: true},
		{name: "Both dimensions", mutate: func(o *liveOptions) { o.Width, o.Height = 640, 480 }},
		{name: "Recording at zero fps", mutate: func(o *liveOptions) { o.Record = "out.mp4"; o.RecordFPS = 0 }, wantErr: true},
		{name: "No labels", mutate: func(o *liveOptions) { o.MaxLabels = 0 }, wantErr: true},
		{name: "Confidence above 100", mutate: func(o *liveOptions) { o.MinConfidence = 101 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validLive()
			tt.mutate(&opts)
			if err := validateLiveFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateLiveFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLiveFlags_DefaultsDisplay(t *testing.T) {
	opts := validLive()
	opts.Displays = nil
	if err := validateLiveFlags(&opts); err != nil {
		t.Fatal(err)
	}
	if len(opts.Displays) != 1 || opts.Displays[0] != "none" {
		t.Errorf("Expected the none display, got %v", opts.Displays)
	}
}

func TestNewSource(t *testing.T) {
	opts := validLive()

	opts.Source = "a.png,b.jpg"
	if s, ok := newSource(opts).(*capture.Stills); !ok || len(s.Paths) != 2 {
		t.Errorf("Expected a stills source, got %T", newSource(opts))
	}

	opts.Source, opts.Backend = "rtsp://cam.local/stream", "ffmpeg"
	if _, ok := newSource(opts).(*capture.FFmpeg); !ok {
		t.Errorf("Expected an ffmpeg source, got %T", newSource(opts))
	}
}

func TestFFmpegArgs(t *testing.T) {
	a := ffmpegArgs("2", capture.KindCamera, 640, 480)
	if a.Format == "" || a.Width != 640 || a.Height != 480 {
		t.Errorf("Unexpected args %+v", a)
	}
	if runtime.GOOS == "linux" && a.Input != "/dev/video2" {
		t.Errorf("Expected the index mapped to a device node, got %q", a.Input)
	}

	if a := ffmpegArgs("clip.mp4", capture.KindStream, 0, 0); a.Format != "" || a.Input != "clip.mp4" {
		t.Errorf("Files must not force a demuxer, got %+v", a)
	}
}

func TestValidateImageFlags(t *testing.T) {
	base := imageOptions{RPS: 5, Timeout: time.Second, Detector: "rekognition"}

	tests := []struct {
		name    string
		args    []string
		mutate  func(o *imageOptions)
		wantErr bool
	}{
		{name: "One file", args: []string{"a.jpg"}, mutate: func(o *imageOptions) {}},
		{name: "Samples only", mutate: func(o *imageOptions) { o.Samples = true }},
		{name: "Nothing to do", mutate: func(o *imageOptions) {}, wantErr: true},
		{name: "Zero rps", args: []string{"a.jpg"}, mutate: func(o *imageOptions) { o.RPS = 0 }, wantErr: true},
		{name: "Zero timeout", args: []string{"a.jpg"}, mutate: func(o *imageOptions) { o.Timeout = 0 }, wantErr: true},
		{name: "Engine without command", args: []string{"a.jpg"}, mutate: func(o *imageOptions) { o.Detector = "engine" }, wantErr: true},
		{name: "Unknown detector", args: []string{"a.jpg"}, mutate: func(o *imageOptions) { o.Detector = "x" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			if err := validateImageFlags(tt.args, opts); (err != nil) != tt.wantErr {
				t.Errorf("validateImageFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestImageRefs(t *testing.T) {
	refs, needS3, err := imageRefs([]string{"photo.jpg", "https://example.com/a/cat.png"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if needS3 {
		t.Error("No s3 refs were given")
	}
	if len(refs) != 2+len(imagesrc.Samples) || refs[1].Name != "cat.png" {
		t.Errorf("Unexpected refs %+v", refs)
	}

	if _, needS3, _ := imageRefs([]string{"s3://bucket/"}, false); !needS3 {
		t.Error("Expected s3 to be needed for a bucket listing")
	}
	if _, _, err := imageRefs([]string{"s3:///key"}, false); err == nil {
		t.Error("Expected an error for a missing bucket")
	}
}

func TestApplyOverrides(t *testing.T) {
	c := &config.Config{Region: "us-east-1", LogLevel: "info", OutputDir: "vigil_output"}
	applyOverrides(c, rootOptions{Region: "eu-west-1", DBURL: "postgres://db/vigil"})

	if c.Region != "eu-west-1" || c.DBURL != "postgres://db/vigil" {
		t.Errorf("Flags did not override the environment: %+v", c)
	}
	if c.LogLevel != "info" || c.OutputDir != "vigil_output" {
		t.Errorf("Unset flags must keep environment values: %+v", c)
	}
}

func TestRecordSession_NoLedger(t *testing.T) {
	Cfg = &config.Config{}
	DB = nil
	defer func() { Cfg = nil }()

	if err := recordSession(session.Summary{ID: "abc", Reason: session.ReasonQuit}, ""); err != nil {
		t.Errorf("Expected no error without a configured ledger, got %v", err)
	}
	if DB != nil {
		t.Error("No connection should be opened without a configured ledger")
	}
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	printSessions(&buf, nil)
	if !strings.Contains(buf.String(), "No sessions recorded yet.") {
		t.Errorf("Unexpected output %q", buf.String())
	}

	buf.Reset()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	printSessions(&buf, []store.Record{{
		ID: "0123456789abcdef", Source: "0", Started: start, Ended: start.Add(95 * time.Second),
		Frames: 2850, Analyses: 40, Failures: 2, RateLimited: 5, CadenceN: 60, Reason: "quit", Label: "lobby",
	}})
	out := buf.String()
	for _, want := range []string{"ID", "REASON", "0123456789ab", "1m35s", "2850", "quit", "lobby"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Error("Expected the id to be shortened")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(&out, bufio.NewReader(strings.NewReader(tt.in)), "Sure?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !strings.Contains(out.String(), "Sure? [y/N]") {
			t.Errorf("Prompt not written: %q", out.String())
		}
	}
}

func TestRemoveDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	os.MkdirAll(filepath.Join(dir, "nested"), 0755)
	removeDir(dir)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed", dir)
	}
}

func TestShortID(t *testing.T) {
	if shortID("abc") != "abc" || shortID("0123456789abcdef") != "0123456789ab" {
		t.Error("Unexpected short ids")
	}
}
