package report

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/vigil/internal/overlay"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

// Face boxes cycle through these colors.
var faceColors = []color.RGBA{
	{R: 230, G: 25, B: 25, A: 255},  // red
	{R: 30, G: 90, B: 230, A: 255},  // blue
	{R: 20, G: 170, B: 40, A: 255},  // green
	{R: 240, G: 200, B: 0, A: 255},  // yellow
	{R: 140, G: 50, B: 170, A: 255}, // purple
	{R: 255, G: 140, B: 0, A: 255},  // orange
}

// Label instance boxes use a pastel palette.
var labelColors = []color.RGBA{
	{R: 141, G: 211, B: 199, A: 255},
	{R: 255, G: 255, B: 179, A: 255},
	{R: 190, G: 186, B: 218, A: 255},
	{R: 251, G: 128, B: 114, A: 255},
	{R: 128, G: 177, B: 211, A: 255},
	{R: 253, G: 180, B: 98, A: 255},
	{R: 179, G: 222, B: 105, A: 255},
	{R: 252, G: 205, B: 229, A: 255},
}

const (
	titleBand = 60
	panelGap  = 20
)

// Visualize draws the faces panel and the objects panel side by side under a
// title naming the image.
func Visualize(img image.Image, res types.DetectionResult, name string) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dc := gg.NewContext(2*w+3*panelGap, h+titleBand+panelGap)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetFontFace(overlay.Face(22))
	dc.SetColor(color.Black)
	dc.DrawStringAnchored("Rekognition Analysis: "+name, float64(dc.Width())/2, titleBand/2, 0.5, 0.5)

	left := gg.NewContextForImage(img)
	drawFaces(left, res.Faces)
	dc.DrawImage(left.Image(), panelGap, titleBand)

	right := gg.NewContextForImage(img)
	drawLabels(right, res.Labels)
	dc.DrawImage(right.Image(), 2*panelGap+w, titleBand)

	dc.SetFontFace(overlay.Face(16))
	dc.SetColor(color.Black)
	dc.DrawStringAnchored("Face Detection", float64(panelGap+w/2), titleBand-8, 0.5, 0)
	dc.DrawStringAnchored("Object Detection", float64(2*panelGap+w+w/2), titleBand-8, 0.5, 0)

	return dc.Image()
}

func drawFaces(dc *gg.Context, faces []types.FaceDetail) {
	bounds := image.Rect(0, 0, dc.Width(), dc.Height())
	if len(faces) == 0 {
		placeholder(dc, "No Faces Detected")
		return
	}

	dc.SetFontFace(overlay.Face(14))
	for i, f := range faces {
		c := faceColors[i%len(faceColors)]
		r := overlay.Denormalize(f.Box, bounds)
		dc.SetColor(c)
		dc.SetLineWidth(3)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()

		lines := []string{fmt.Sprintf("Face %d: %.1f%%", i+1, f.Confidence)}
		if f.AgeRange != nil {
			lines = append(lines, fmt.Sprintf("Age: %d-%d", f.AgeRange.Low, f.AgeRange.High))
		}
		if f.Gender != nil {
			lines = append(lines, f.Gender.Value)
		}
		if e, ok := f.TopEmotion(); ok {
			lines = append(lines, e.Type)
		}
		tag(dc, lines, float64(r.Min.X), float64(r.Min.Y)-10, color.NRGBA{R: 255, G: 255, B: 255, A: 204}, c)
	}
}

func drawLabels(dc *gg.Context, labels []types.LabelDetail) {
	bounds := image.Rect(0, 0, dc.Width(), dc.Height())
	if len(labels) == 0 {
		placeholder(dc, "No Objects Detected")
		return
	}

	dc.SetFontFace(overlay.Face(13))
	var general []string
	n := 0
	for _, l := range labels {
		if len(l.Instances) == 0 {
			general = append(general, fmt.Sprintf("%s (%.1f%%)", l.Name, l.Confidence))
			continue
		}
		for _, inst := range l.Instances {
			c := labelColors[n%len(labelColors)]
			n++
			r := overlay.Denormalize(inst.Box, bounds)
			dc.SetColor(c)
			dc.SetLineWidth(2)
			dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
			dc.Stroke()

			conf := l.Confidence
			if inst.Confidence != nil {
				conf = *inst.Confidence
			}
			bg := color.NRGBA{R: c.R, G: c.G, B: c.B, A: 204}
			tag(dc, []string{l.Name, fmt.Sprintf("%.1f%%", conf)}, float64(r.Min.X), float64(r.Min.Y)-5, bg, color.Black)
		}
	}

	if len(general) > 0 {
		if len(general) > 5 {
			general = general[:5]
		}
		lines := append([]string{"General Labels:"}, general...)
		tag(dc, lines, 10, float64(dc.Height())-10, color.RGBA{A: 178}, color.White)
	}
}

// tag draws lines in a filled box whose bottom-left corner is at (x, bottom),
// kept inside the canvas.
func tag(dc *gg.Context, lines []string, x, bottom float64, bg, fg color.Color) {
	var tw float64
	_, lh := dc.MeasureString("M")
	for _, l := range lines {
		if w, _ := dc.MeasureString(l); w > tw {
			tw = w
		}
	}
	const pad = 4.0
	bw := tw + 2*pad
	bh := float64(len(lines))*(lh+pad) + pad

	top := bottom - bh
	if top < 0 {
		top = 0
	}
	if x+bw > float64(dc.Width()) {
		x = float64(dc.Width()) - bw
	}
	if x < 0 {
		x = 0
	}

	dc.SetColor(bg)
	dc.DrawRoundedRectangle(x, top, bw, bh, 3)
	dc.Fill()
	dc.SetColor(fg)
	for i, l := range lines {
		dc.DrawString(l, x+pad, top+pad+float64(i+1)*(lh+pad)-pad)
	}
}

func placeholder(dc *gg.Context, msg string) {
	dc.SetFontFace(overlay.Face(20))
	w, h := dc.MeasureString(msg)
	cx, cy := float64(dc.Width())/2, float64(dc.Height())/2
	dc.SetColor(color.NRGBA{R: 255, G: 255, B: 0, A: 178})
	dc.DrawRoundedRectangle(cx-w/2-10, cy-h/2-10, w+20, h+20, 6)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(msg, cx, cy, 0.5, 0.5)
}

// OutputPath is where a report image for name is written:
// <dir>/<prefix>_<sanitized name>.png
func OutputPath(dir, prefix, name string) string {
	base := utils.SanitizeFilename(prefix + "_" + strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	return filepath.Join(dir, base+".png")
}

// SaveVisualization renders Visualize for img and writes it under dir.
func SaveVisualization(dir, name string, img image.Image, res types.DetectionResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}
	path := OutputPath(dir, "detection_results", name)
	if err := gg.SavePNG(path, Visualize(img, res, name)); err != nil {
		return "", errors.Wrapf(err, "saving %s", path)
	}
	return path, nil
}
