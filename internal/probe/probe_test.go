package probe

import (
	"bytes"
	"context"
	"image"
	"strings"
	"testing"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/probe/devices"
	"github.com/pkg/errors"
)

func TestSystemInfo(t *testing.T) {
	s := SystemInfo(func() string { return "4.10.0" })
	if s.OpenCV != "4.10.0" || s.OS == "" || s.Go == "" {
		t.Errorf("Unexpected system info %+v", s)
	}
	if SystemInfo(nil).OpenCV != "n/a" {
		t.Error("Expected n/a without OpenCV")
	}
}

func TestCheckPermissions(t *testing.T) {
	tests := []struct {
		name      string
		env       Env
		devices   int
		inGroup   *bool
		wantHint  string
		wantHints int
	}{
		{
			name: "linux member",
			env: Env{
				GOOS:   "linux",
				Glob:   func(string) ([]string, error) { return []string{"/dev/video0", "/dev/video1"}, nil },
				Groups: func() ([]string, error) { return []string{"users", "video"}, nil },
			},
			devices: 2,
			inGroup: boolPtr(true),
		},
		{
			name: "linux not member, no devices",
			env: Env{
				GOOS:   "linux",
				Glob:   func(string) ([]string, error) { return nil, nil },
				Groups: func() ([]string, error) { return []string{"users"}, nil },
			},
			inGroup:   boolPtr(false),
			wantHint:  "usermod -a -G video",
			wantHints: 2,
		},
		{
			name: "linux groups unknown",
			env: Env{
				GOOS:   "linux",
				Glob:   func(string) ([]string, error) { return []string{"/dev/video0"}, nil },
				Groups: func() ([]string, error) { return nil, errors.New("no user") },
			},
			devices: 1,
		},
		{
			name:      "darwin",
			env:       Env{GOOS: "darwin"},
			wantHint:  "Camera",
			wantHints: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := CheckPermissions(tt.env)
			if len(p.Devices) != tt.devices {
				t.Errorf("Expected %d devices, got %v", tt.devices, p.Devices)
			}
			if (p.InVideoGroup == nil) != (tt.inGroup == nil) || (p.InVideoGroup != nil && *p.InVideoGroup != *tt.inGroup) {
				t.Errorf("Unexpected group membership %v", p.InVideoGroup)
			}
			if len(p.Hints) != tt.wantHints {
				t.Errorf("Expected %d hints, got %v", tt.wantHints, p.Hints)
			}
			if tt.wantHint != "" && !strings.Contains(strings.Join(p.Hints, "\n"), tt.wantHint) {
				t.Errorf("Expected a hint containing %q, got %v", tt.wantHint, p.Hints)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func fakeOpener(index int) (image.Point, error) {
	switch index {
	case 0:
		return image.Point{}, errors.Wrap(capture.ErrDeviceUnavailable, "index 0")
	case 1:
		return image.Point{}, errors.Wrap(capture.ErrNoFrame, "index 1")
	case 2:
		return image.Pt(1280, 720), nil
	}
	return image.Pt(640, 480), nil
}

func TestScanIndices(t *testing.T) {
	var progress bytes.Buffer
	cams := ScanIndices(context.Background(), 4, fakeOpener, &progress)

	if len(cams) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(cams))
	}
	want := []Outcome{CannotOpen, NoFrames, Working, Working}
	for i, c := range cams {
		if c.Outcome != want[i] {
			t.Errorf("Index %d: expected %s, got %s", i, want[i], c.Outcome)
		}
	}
	if cams[2].Resolution != image.Pt(1280, 720) {
		t.Errorf("Unexpected resolution %v", cams[2].Resolution)
	}
	if idx, ok := FirstWorking(cams); !ok || idx != 2 {
		t.Errorf("Expected first working index 2, got %d (%v)", idx, ok)
	}
	if progress.Len() == 0 {
		t.Error("Expected a progress bar to be drawn")
	}
}

func TestScanIndices_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	open := func(i int) (image.Point, error) {
		calls++
		cancel()
		return image.Pt(1, 1), nil
	}
	cams := ScanIndices(ctx, 5, open, nil)
	if calls != 1 || len(cams) != 1 {
		t.Errorf("Expected the scan to stop after cancellation, got %d calls", calls)
	}
}

func TestFirstWorking_None(t *testing.T) {
	if _, ok := FirstWorking([]Camera{{Index: 0, Outcome: CannotOpen}}); ok {
		t.Error("Expected no working camera")
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Report{
		System:      System{OS: "linux", Arch: "amd64", Go: "go1.25", OpenCV: "4.10.0"},
		Permissions: Permissions{Devices: []string{"/dev/video0"}, InVideoGroup: boolPtr(true)},
		Cameras:     ScanIndices(context.Background(), 3, fakeOpener, nil),
		Devices: []devices.Device{{Name: "HD Webcam", ID: "usb-1", Status: "closed",
			Modes: []devices.Mode{{Width: 640, Height: 480, FrameRate: 30, Format: "MJPG"}}}},
	})
	out := buf.String()

	for _, want := range []string{
		"OpenCV: 4.10.0",
		"/dev/video0",
		"✓ User is in video group",
		"Camera index 0: ✗ cannot open",
		"Camera index 1: ✗ opens but can't read frames",
		"Camera index 2: ✓ Working (Resolution: 1280x720)",
		"Working camera indices: [2]",
		"640x480 @ 30 fps MJPG",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}
