package display

import (
	"context"
	"image"
	"image/draw"
	"io"

	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Recorder writes every presented frame into a video file through ffmpeg.
// The output size is fixed by the first frame; later frames of another size
// are drawn onto a canvas of that size.
//
// The encoder outlives cancellation of the context it was created with, so a
// session stopped by Ctrl+C still gets a finalized file from Close.
type Recorder struct {
	Path string
	FPS  float64

	ctx      context.Context
	cmd      *utils.SafeCommand
	stdin    io.WriteCloser
	canvas   *image.RGBA
	startErr error
}

func NewRecorder(ctx context.Context, path string, fps float64) *Recorder {
	if fps <= 0 {
		fps = 30
	}
	return &Recorder{Path: path, FPS: fps, ctx: context.WithoutCancel(ctx)}
}

func (r *Recorder) start(size image.Point) error {
	cmd := utils.NewFFmpegEncoder(r.ctx, r.Path, r.FPS, size.X, size.Y)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "creating encoder stdin pipe")
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return errors.Wrap(err, "starting encoder")
	}
	r.cmd, r.stdin = cmd, stdin
	r.canvas = image.NewRGBA(image.Rectangle{Max: size})
	return nil
}

func (r *Recorder) Show(frame image.Image) error {
	if r.startErr != nil {
		return r.startErr
	}
	if r.canvas == nil {
		if err := r.start(frame.Bounds().Size()); err != nil {
			r.startErr = err
			return err
		}
	}
	draw.Draw(r.canvas, r.canvas.Bounds(), frame, frame.Bounds().Min, draw.Src)
	if _, err := r.stdin.Write(r.canvas.Pix); err != nil {
		return errors.Wrapf(err, "writing frame to encoder: %s", r.cmd.Logs())
	}
	return nil
}

// Close flushes the encoder and waits for the file to be finalized.
func (r *Recorder) Close() error {
	if r.cmd == nil {
		return nil
	}
	err := r.stdin.Close()
	if waitErr := r.cmd.Wait(); waitErr != nil {
		err = multierr.Append(err, errors.Wrapf(waitErr, "encoder failed: %s", r.cmd.Logs()))
	}
	r.cmd, r.stdin = nil, nil
	return err
}
