// Package cvwindow shows frames in an OpenCV HighGUI window and turns key
// presses into input events.
package cvwindow

import (
	"image"

	"github.com/andresmejia3/vigil/internal/display"
	"github.com/andresmejia3/vigil/internal/input"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Window is a display.Surface. HighGUI only processes events while WaitKey
// runs, so Show pumps it once per frame and forwards any key pressed.
type Window struct {
	win    *gocv.Window
	events chan input.Event
	shown  bool
}

func New(title string) *Window {
	return &Window{
		win:    gocv.NewWindow(title),
		events: make(chan input.Event, 16),
	}
}

func (w *Window) Events() <-chan input.Event { return w.events }

func (w *Window) Show(frame image.Image) error {
	if w.win == nil {
		return display.ErrClosed
	}
	// Closing the window with the mouse leaves it invisible
	if w.shown && w.win.GetWindowProperty(gocv.WindowPropertyVisible) < 1 {
		return display.ErrClosed
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return errors.Wrap(err, "converting frame")
	}
	defer mat.Close()

	w.win.IMShow(mat)
	w.shown = true
	if key := w.win.WaitKey(1); key >= 0 {
		if e, ok := input.FromKey(key & 0xFF); ok {
			input.Send(w.events, e)
		}
	}
	return nil
}

func (w *Window) Close() error {
	if w.win == nil {
		return nil
	}
	err := w.win.Close()
	w.win = nil
	return err
}
