// Package devices lists the video capture devices visible to the media
// driver layer, independently of OpenCV.
package devices

import (
	"strings"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// Mode is one capture format a device advertises.
type Mode struct {
	Width     int
	Height    int
	FrameRate float32
	Format    string
}

type Device struct {
	Name   string
	ID     string
	Label  string
	Status string
	Modes  []Mode
}

// VideoDrivers registers the camera drivers and returns every video recorder.
func VideoDrivers() []driver.Driver {
	camera.Initialize()
	return driver.GetManager().Query(driver.FilterVideoRecorder())
}

// Discover describes each driver. Drivers that are busy or report no modes
// are skipped.
func Discover(getDrivers func() []driver.Driver, logger *zap.Logger) []Device {
	if logger == nil {
		logger = zap.NewNop()
	}

	var out []Device
	for _, d := range getDrivers() {
		info := d.Info()
		if d.Status() == driver.StateRunning {
			logger.Debug("driver is in use, skipping", zap.String("driver", info.Label))
			continue
		}
		props, err := properties(d)
		if err != nil {
			logger.Debug("cannot read driver properties, skipping", zap.String("driver", info.Label), zap.Error(err))
			continue
		}
		if len(props) == 0 {
			logger.Debug("no properties for driver, skipping", zap.String("driver", info.Label))
			continue
		}

		label := strings.Split(info.Label, camera.LabelSeparator)[0]
		name, id := label, label
		if parts := strings.Split(info.Name, camera.LabelSeparator); parts[0] != "" {
			name = parts[0]
			if len(parts) > 1 {
				id = parts[1]
			}
		}

		dev := Device{Name: name, ID: id, Label: label, Status: string(d.Status())}
		for _, p := range props {
			dev.Modes = append(dev.Modes, Mode{
				Width:     p.Video.Width,
				Height:    p.Video.Height,
				FrameRate: p.Video.FrameRate,
				Format:    string(p.Video.FrameFormat),
			})
		}
		out = append(out, dev)
	}
	return out
}

// properties opens a closed driver just long enough to read its modes.
func properties(d driver.Driver) (_ []prop.Media, err error) {
	if d.Status() == driver.StateClosed {
		if err := d.Open(); err != nil {
			return nil, err
		}
		defer func() {
			if cerr := d.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}
	return d.Properties(), nil
}
