package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
	"unicode"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr.
// This keeps the crash output of ffmpeg or a detection engine around for the error report.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns the trimmed stderr output captured so far
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return strings.TrimSpace(s.Stderr.String())
}

// Die is the unified exit strategy for vigil.
// It prints the error box and exits.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// ShowError prints a formatted error box and dumps process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 VIGIL ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(os.Stderr, "\nPROCESS LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine (Shared by capture & recording) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureArgs describes an ffmpeg input.
type CaptureArgs struct {
	Input string
	// Format forces the demuxer, e.g. "v4l2" for a Linux camera node
	Format string
	// Width and Height request a capture size from devices (0 = device default)
	Width, Height int
	// Realtime paces file input at its native frame rate, like a camera
	Realtime bool
}

// DeviceFormat returns the ffmpeg demuxer for local cameras on this OS.
func DeviceFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	}
	return "v4l2"
}

// NewFFmpegCaptureCmd creates a decoder pipe
// It configures FFmpeg to output MJPEG frames to Stdout for ingestion.
func NewFFmpegCaptureCmd(ctx context.Context, a CaptureArgs) *SafeCommand {
	// -hide_banner and -loglevel error keep the stderr buffer small
	args := []string{"-hide_banner", "-loglevel", "error"}
	if a.Realtime {
		args = append(args, "-re")
	}
	if strings.HasPrefix(a.Input, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	if a.Format != "" {
		args = append(args, "-f", a.Format)
		if a.Width > 0 && a.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", a.Width, a.Height))
		}
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	args = append(args, "-i", a.Input, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// NewFFmpegEncoder creates an encoder pipe that reads raw RGBA frames of a
// fixed size from Stdin and writes an H.264 video to output.
func NewFFmpegEncoder(ctx context.Context, output string, fps float64, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%.3f", fps),
		"-i", "-",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		output,
	)
}

// GenerateSessionID creates a deterministic id for a live session
// based on its source and start time.
func GenerateSessionID(source string, started time.Time) string {
	input := fmt.Sprintf("%s-%d", source, started.UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// SanitizeFilename keeps letters, digits, spaces, dashes and underscores,
// then turns spaces into underscores.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
	if out == "" {
		return "image"
	}
	return out
}
