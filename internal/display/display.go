// Package display holds the places a session can present frames: a window,
// an MJPEG endpoint, a video file, or nowhere.
package display

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrClosed is returned by Show once the user has closed the surface.
var ErrClosed = errors.New("display closed")

// Surface presents frames.
type Surface interface {
	Show(frame image.Image) error
	Close() error
}

// Discard drops every frame. It is the headless surface.
type Discard struct{}

func (Discard) Show(image.Image) error { return nil }
func (Discard) Close() error           { return nil }

type tee []Surface

// Tee presents every frame on all surfaces. Show keeps going after a failing
// surface and returns the combined error; ErrClosed from any surface is
// reported as ErrClosed.
func Tee(surfaces ...Surface) Surface {
	switch len(surfaces) {
	case 0:
		return Discard{}
	case 1:
		return surfaces[0]
	}
	return tee(surfaces)
}

func (t tee) Show(frame image.Image) error {
	var err error
	for _, s := range t {
		if showErr := s.Show(frame); showErr != nil {
			if errors.Is(showErr, ErrClosed) {
				return ErrClosed
			}
			err = multierr.Append(err, showErr)
		}
	}
	return err
}

func (t tee) Close() error {
	var err error
	for _, s := range t {
		err = multierr.Append(err, s.Close())
	}
	return err
}
