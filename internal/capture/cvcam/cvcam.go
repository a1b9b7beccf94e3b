// Package cvcam reads frames from cameras and streams through OpenCV.
package cvcam

import (
	"context"
	"image"
	"strconv"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// emptyReadRetries is how many empty frames a live camera may hand back in a
// row before the stream counts as ended. Webcams often return a few while
// warming up.
const emptyReadRetries = 10

// Camera is a capture.Source backed by a gocv.VideoCapture.
type Camera struct {
	Device        string
	Width, Height int

	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func New(device string, width, height int) *Camera {
	return &Camera{Device: device, Width: width, Height: height}
}

func (c *Camera) Name() string { return c.Device }

// deviceArg turns "0" into the int OpenCV expects for camera indices.
func deviceArg(device string) interface{} {
	if idx, err := strconv.Atoi(device); err == nil {
		return idx
	}
	return device
}

func (c *Camera) Open(ctx context.Context) error {
	vc, err := gocv.OpenVideoCapture(deviceArg(c.Device))
	if err != nil {
		return errors.Wrapf(capture.ErrDeviceUnavailable, "%s: %v", c.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return errors.Wrapf(capture.ErrDeviceUnavailable, "%s: could not open", c.Device)
	}
	if c.Width > 0 && c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	c.vc = vc
	c.mat = gocv.NewMat()
	return nil
}

func (c *Camera) Read(ctx context.Context) (image.Image, error) {
	if c.vc == nil {
		return nil, errors.New("camera not open")
	}
	for attempt := 0; attempt < emptyReadRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok := c.vc.Read(&c.mat); !ok {
			return nil, capture.ErrStreamEnded
		}
		if c.mat.Empty() {
			continue
		}
		img, err := c.mat.ToImage()
		if err != nil {
			return nil, errors.Wrap(err, "converting frame")
		}
		return img, nil
	}
	return nil, capture.ErrStreamEnded
}

func (c *Camera) Close() error {
	if c.vc == nil {
		return nil
	}
	c.mat.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}

// Probe opens camera index, grabs one frame and reports its size. It returns
// capture.ErrDeviceUnavailable when the index cannot be opened and
// capture.ErrNoFrame when it opens but yields nothing.
func Probe(index int) (image.Point, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return image.Point{}, errors.Wrapf(capture.ErrDeviceUnavailable, "index %d: %v", index, err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return image.Point{}, errors.Wrapf(capture.ErrDeviceUnavailable, "index %d", index)
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if !vc.Read(&mat) || mat.Empty() {
		return image.Point{}, errors.Wrapf(capture.ErrNoFrame, "index %d", index)
	}
	return image.Pt(mat.Cols(), mat.Rows()), nil
}

// Version reports the linked OpenCV version.
func Version() string {
	return gocv.OpenCVVersion()
}
