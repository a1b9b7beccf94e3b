// Package overlay draws detection results and captions onto frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Face returns the bundled Go Regular font at size points.
func Face(size float64) font.Face {
	return truetype.NewFace(regular, &truetype.Options{Size: size})
}

var (
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 215, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Renderer draws face boxes (and optionally label instance boxes) onto a copy
// of a frame. The zero value draws faces in green.
type Renderer struct {
	Labels     bool
	FaceColor  color.Color
	LabelColor color.Color
	FontSize   float64
	LineWidth  float64
}

// Denormalize converts a normalized box to pixel coordinates within bounds,
// rounding to the nearest pixel. The result is not clipped.
func Denormalize(box types.BoundingBox, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x := int(math.Round(box.Left * w))
	y := int(math.Round(box.Top * h))
	bw := int(math.Round(box.Width * w))
	bh := int(math.Round(box.Height * h))
	return image.Rect(x, y, x+bw, y+bh).Add(bounds.Min)
}

// Render returns frame annotated with res. When there is nothing to draw the
// input frame itself is returned; otherwise the input is left untouched and a
// new image is returned.
func (r Renderer) Render(frame image.Image, res types.DetectionResult) image.Image {
	if frame == nil {
		return nil
	}
	var labels []types.LabelDetail
	if r.Labels {
		labels = res.LabelsWithBoxes()
	}
	if len(res.Faces) == 0 && len(labels) == 0 {
		return frame
	}

	b := frame.Bounds()
	dc := gg.NewContextForImage(frame)
	r.setFont(dc)

	for _, l := range labels {
		for _, inst := range l.Instances {
			rect := Denormalize(inst.Box, b).Sub(b.Min)
			r.box(dc, rect, r.labelColor())
			text := l.Name
			if inst.Confidence != nil {
				text = fmt.Sprintf("%s %.1f%%", l.Name, *inst.Confidence)
			}
			r.text(dc, text, rect.Min.X, rect.Max.Y+20, r.labelColor())
		}
	}

	for _, f := range res.Faces {
		rect := Denormalize(f.Box, b).Sub(b.Min)
		r.box(dc, rect, r.faceColor())
		r.text(dc, fmt.Sprintf("Face: %.1f%%", f.Confidence), rect.Min.X, rect.Min.Y-10, r.faceColor())
		if f.AgeRange != nil {
			r.text(dc, fmt.Sprintf("Age: %d-%d", f.AgeRange.Low, f.AgeRange.High), rect.Min.X, rect.Max.Y+20, r.faceColor())
		}
	}

	return dc.Image()
}

// Caption writes lines in the top-left corner, one every 30px starting at
// (10, 30).
func Caption(frame image.Image, lines ...string) image.Image {
	if frame == nil || len(lines) == 0 {
		return frame
	}
	dc := gg.NewContextForImage(frame)
	dc.SetFontFace(Face(18))
	for i, line := range lines {
		x, y := 10.0, float64(30+30*i)
		// shadow
		dc.SetColor(color.RGBA{A: 200})
		dc.DrawString(line, x+1, y+1)
		dc.SetColor(White)
		dc.DrawString(line, x, y)
	}
	return dc.Image()
}

func (r Renderer) faceColor() color.Color {
	if r.FaceColor != nil {
		return r.FaceColor
	}
	return Green
}

func (r Renderer) labelColor() color.Color {
	if r.LabelColor != nil {
		return r.LabelColor
	}
	return Yellow
}

func (r Renderer) setFont(dc *gg.Context) {
	size := r.FontSize
	if size <= 0 {
		size = 16
	}
	dc.SetFontFace(Face(size))
}

func (r Renderer) box(dc *gg.Context, rect image.Rectangle, c color.Color) {
	width := r.LineWidth
	if width <= 0 {
		width = 2
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
	dc.Stroke()
}

// text draws s with its baseline at y, nudged inside the canvas when it would
// fall off the top or bottom edge.
func (r Renderer) text(dc *gg.Context, s string, x, y int, c color.Color) {
	_, h := dc.MeasureString(s)
	fy := float64(y)
	if fy < h {
		fy = h
	}
	if limit := float64(dc.Height()) - 2; fy > limit {
		fy = limit
	}
	fx := math.Max(0, float64(x))
	dc.SetColor(c)
	dc.DrawString(s, fx, fy)
}
