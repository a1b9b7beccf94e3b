// Package probe collects camera diagnostics: platform, device permissions and
// which capture indices actually deliver frames.
package probe

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/probe/devices"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

type System struct {
	OS     string
	Arch   string
	Go     string
	OpenCV string
}

// SystemInfo describes the running platform. opencv may be nil when the
// OpenCV bindings are not in use.
func SystemInfo(opencv func() string) System {
	s := System{OS: runtime.GOOS, Arch: runtime.GOARCH, Go: runtime.Version(), OpenCV: "n/a"}
	if opencv != nil {
		s.OpenCV = opencv()
	}
	return s
}

// Permissions is what the OS says about camera access.
type Permissions struct {
	// Devices lists /dev/video* nodes (Linux only).
	Devices []string
	// InVideoGroup is nil when group membership could not be checked.
	InVideoGroup *bool
	Hints        []string
}

// Env abstracts the lookups Permissions needs.
type Env struct {
	GOOS   string
	Glob   func(pattern string) ([]string, error)
	Groups func() ([]string, error)
}

// DefaultEnv reads the real filesystem and user database.
func DefaultEnv() Env {
	return Env{GOOS: runtime.GOOS, Glob: filepath.Glob, Groups: currentGroups}
}

func currentGroups() ([]string, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, id := range ids {
		if g, err := user.LookupGroupId(id); err == nil {
			names = append(names, g.Name)
		}
	}
	return names, nil
}

// CheckPermissions reports device nodes and group membership on Linux and
// where to look on other platforms.
func CheckPermissions(env Env) Permissions {
	var p Permissions
	switch env.GOOS {
	case "linux":
		p.Devices, _ = env.Glob("/dev/video*")
		if len(p.Devices) == 0 {
			p.Hints = append(p.Hints, "No video devices found in /dev/")
		}
		if groups, err := env.Groups(); err == nil {
			in := false
			for _, g := range groups {
				if g == "video" {
					in = true
					break
				}
			}
			p.InVideoGroup = &in
			if !in {
				p.Hints = append(p.Hints, "Run: sudo usermod -a -G video $USER, then log out and back in")
			}
		}
	case "darwin":
		p.Hints = append(p.Hints,
			"Check System Settings > Privacy & Security > Camera",
			"Make sure your terminal has camera access")
	case "windows":
		p.Hints = append(p.Hints,
			"Check Device Manager for camera devices",
			"Check Privacy Settings > Camera")
	}
	return p
}

type Outcome int

const (
	Working Outcome = iota
	NoFrames
	CannotOpen
)

func (o Outcome) String() string {
	switch o {
	case Working:
		return "working"
	case NoFrames:
		return "opens but can't read frames"
	}
	return "cannot open"
}

type Camera struct {
	Index      int
	Outcome    Outcome
	Resolution image.Point
	Err        error
}

// Opener grabs one frame from a capture index and reports its size.
type Opener func(index int) (image.Point, error)

// ScanIndices tries indices 0..n-1 in order. Progress is drawn on progress
// when it is not nil.
func ScanIndices(ctx context.Context, n int, open Opener, progress io.Writer) []Camera {
	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("📷 Probing camera indices"),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowCount(),
		)
	}

	var out []Camera
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		c := Camera{Index: i}
		size, err := open(i)
		switch {
		case err == nil:
			c.Outcome, c.Resolution = Working, size
		case errors.Is(err, capture.ErrNoFrame):
			c.Outcome, c.Err = NoFrames, err
		default:
			c.Outcome, c.Err = CannotOpen, err
		}
		out = append(out, c)
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return out
}

// FirstWorking returns the lowest index that delivered a frame.
func FirstWorking(cams []Camera) (int, bool) {
	for _, c := range cams {
		if c.Outcome == Working {
			return c.Index, true
		}
	}
	return 0, false
}

type Report struct {
	System      System
	Permissions Permissions
	Cameras     []Camera
	Devices     []devices.Device
}

// Print writes the report in the order the checks ran.
func Print(w io.Writer, r Report) {
	fmt.Fprintln(w, "=== System Information ===")
	fmt.Fprintf(w, "OS: %s/%s\n", r.System.OS, r.System.Arch)
	fmt.Fprintf(w, "Go: %s\n", r.System.Go)
	fmt.Fprintf(w, "OpenCV: %s\n\n", r.System.OpenCV)

	fmt.Fprintln(w, "=== Camera Permissions ===")
	if len(r.Permissions.Devices) > 0 {
		fmt.Fprintf(w, "Available video devices: %s\n", strings.Join(r.Permissions.Devices, " "))
	}
	if g := r.Permissions.InVideoGroup; g != nil {
		if *g {
			fmt.Fprintln(w, "✓ User is in video group")
		} else {
			fmt.Fprintln(w, "✗ User is NOT in video group")
		}
	}
	for _, h := range r.Permissions.Hints {
		fmt.Fprintln(w, h)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Camera Indices ===")
	var working []string
	for _, c := range r.Cameras {
		if c.Outcome == Working {
			fmt.Fprintf(w, "Camera index %d: ✓ Working (Resolution: %dx%d)\n", c.Index, c.Resolution.X, c.Resolution.Y)
			working = append(working, fmt.Sprint(c.Index))
		} else {
			fmt.Fprintf(w, "Camera index %d: ✗ %s\n", c.Index, c.Outcome)
		}
	}
	if len(working) > 0 {
		fmt.Fprintf(w, "\n✓ Working camera indices: [%s]\n", strings.Join(working, ", "))
	} else if len(r.Cameras) > 0 {
		fmt.Fprintln(w, "\n✗ No working cameras found")
	}

	if len(r.Devices) > 0 {
		fmt.Fprintln(w, "\n=== Media Devices ===")
		for _, d := range r.Devices {
			fmt.Fprintf(w, "%s (%s) [%s]\n", d.Name, d.ID, d.Status)
			for _, m := range d.Modes {
				fmt.Fprintf(w, "  %dx%d @ %.0f fps %s\n", m.Width, m.Height, m.FrameRate, m.Format)
			}
		}
	}
}
