// Package capture provides frame sources: live devices, video streams and
// still images.
package capture

import (
	"context"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable means the source could not be opened at all.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrStreamEnded means the source has no more frames. It is a normal end.
	ErrStreamEnded = errors.New("stream ended")
	// ErrNoFrame means a device opened but produced no image.
	ErrNoFrame = errors.New("device produced no frame")
)

// Source produces frames one at a time.
type Source interface {
	// Open acquires the device. Failures wrap ErrDeviceUnavailable.
	Open(ctx context.Context) error
	// Read blocks until the next frame is available. It returns
	// ErrStreamEnded once the stream is exhausted.
	Read(ctx context.Context) (image.Image, error)
	Close() error
	Name() string
}

// Kind is the broad category of a --source value.
type Kind int

const (
	KindCamera Kind = iota // numeric device index
	KindDevice             // device node such as /dev/video0
	KindStills             // still image files
	KindStream             // video file or network stream
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindDevice:
		return "device"
	case KindStills:
		return "stills"
	}
	return "stream"
}

var stillExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Classify guesses what kind of source s names.
func Classify(s string) Kind {
	if _, err := strconv.Atoi(s); err == nil {
		return KindCamera
	}
	if strings.HasPrefix(s, "/dev/video") {
		return KindDevice
	}
	if !strings.Contains(s, "://") && stillExt[strings.ToLower(filepath.Ext(s))] {
		return KindStills
	}
	return KindStream
}

func unavailable(name string, err error) error {
	if err == nil {
		return errors.Wrap(ErrDeviceUnavailable, name)
	}
	return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", name, err)
}
