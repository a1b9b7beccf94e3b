package capture

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"

	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const megabyte = 1024 * 1024

// FFmpeg reads frames from anything ffmpeg can decode: camera nodes, video
// files, RTSP and HTTP streams. Frames travel as an MJPEG pipe split on JPEG
// markers.
type FFmpeg struct {
	Args utils.CaptureArgs

	cmd     *utils.SafeCommand
	out     io.ReadCloser
	scanner *bufio.Scanner
	primed  image.Image
	cancel  context.CancelFunc
}

func NewFFmpeg(args utils.CaptureArgs) *FFmpeg {
	return &FFmpeg{Args: args}
}

func (f *FFmpeg) Name() string { return f.Args.Input }

// Open starts ffmpeg and waits for the first frame, so an unusable input is
// reported here rather than on the first Read.
func (f *FFmpeg) Open(ctx context.Context) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return unavailable(f.Name(), errors.Wrap(err, "ffmpeg not found"))
	}
	if f.Args.Format != "" {
		if _, err := os.Stat(f.Args.Input); err != nil && Classify(f.Args.Input) == KindDevice {
			return unavailable(f.Name(), err)
		}
	}

	// ffmpeg is killed when ctx ends, which also unblocks a pending Read
	procCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.cmd = utils.NewFFmpegCaptureCmd(procCtx, f.Args)

	out, err := f.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return unavailable(f.Name(), err)
	}
	if err := f.cmd.Start(); err != nil {
		cancel()
		return unavailable(f.Name(), err)
	}
	f.out = out

	f.scanner = bufio.NewScanner(out)
	f.scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	f.scanner.Split(utils.SplitJpeg)

	first, err := f.next(ctx)
	if err != nil {
		logs := f.cmd.Logs()
		f.Close()
		if logs != "" {
			return unavailable(f.Name(), errors.New(logs))
		}
		return unavailable(f.Name(), err)
	}
	f.primed = first
	return nil
}

func (f *FFmpeg) Read(ctx context.Context) (image.Image, error) {
	if f.scanner == nil {
		return nil, errors.New("ffmpeg source not open")
	}
	if f.primed != nil {
		img := f.primed
		f.primed = nil
		return img, nil
	}
	return f.next(ctx)
}

func (f *FFmpeg) next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "frame scanner failed")
		}
		return nil, ErrStreamEnded
	}
	img, err := jpeg.Decode(bytes.NewReader(f.scanner.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "decoding frame")
	}
	return img, nil
}

// Close stops ffmpeg and releases the pipe. It is safe to call more than once.
func (f *FFmpeg) Close() error {
	if f.cmd == nil {
		return nil
	}
	var err error
	if f.out != nil {
		err = multierr.Append(err, ignoreClosed(f.out.Close()))
	}
	if f.cancel != nil {
		f.cancel()
	}
	// Killed by the context cancel above; the exit status is expected to be non-zero
	f.cmd.Wait()
	f.cmd, f.out, f.scanner, f.primed = nil, nil, nil, nil
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
