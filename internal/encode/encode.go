// Package encode turns frames into the compressed payload sent to detectors.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// MaxPayload is the largest inline image Rekognition accepts.
const MaxPayload = 5 * 1024 * 1024

// Error is returned when a frame cannot be encoded.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("encoding frame: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Encoder converts a frame to bytes.
type Encoder interface {
	Encode(frame image.Image) ([]byte, error)
}

// JPEG encodes frames as JPEG. Frames with a side larger than MaxDimension
// are downscaled first; detection boxes are normalized, so results still map
// back onto the original frame.
type JPEG struct {
	Quality      int
	MaxDimension int
}

// DefaultJPEG is good enough for face detection and keeps uploads small.
var DefaultJPEG = JPEG{Quality: 85, MaxDimension: 1920}

func (j JPEG) Encode(frame image.Image) ([]byte, error) {
	if frame == nil {
		return nil, &Error{Err: fmt.Errorf("nil frame")}
	}
	b := frame.Bounds()
	if b.Empty() {
		return nil, &Error{Err: fmt.Errorf("empty frame %v", b)}
	}

	if j.MaxDimension > 0 && (b.Dx() > j.MaxDimension || b.Dy() > j.MaxDimension) {
		frame = imaging.Fit(frame, j.MaxDimension, j.MaxDimension, imaging.Lanczos)
	}

	q := j.Quality
	if q <= 0 || q > 100 {
		q = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: q}); err != nil {
		return nil, &Error{Err: err}
	}
	if buf.Len() > MaxPayload {
		return nil, &Error{Err: fmt.Errorf("payload %d bytes exceeds %d byte limit", buf.Len(), MaxPayload)}
	}
	return buf.Bytes(), nil
}

// Func adapts a function to the Encoder interface.
type Func func(frame image.Image) ([]byte, error)

func (f Func) Encode(frame image.Image) ([]byte, error) { return f(frame) }
