package report

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/andresmejia3/vigil/internal/overlay"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	skyBlue      = color.RGBA{R: 135, G: 206, B: 235, A: 255}
	lightCoral   = color.RGBA{R: 240, G: 128, B: 128, A: 255}
	lightGreen   = color.RGBA{R: 144, G: 238, B: 144, A: 255}
	countsColors = []color.Color{
		color.RGBA{R: 255, G: 215, B: 0, A: 255},   // gold
		color.RGBA{R: 147, G: 112, B: 219, A: 255}, // mediumpurple
		color.RGBA{R: 255, G: 165, B: 0, A: 255},   // orange
	}
)

// Stats are the numbers behind the summary charts.
type Stats struct {
	// EmotionScores holds the highest confidence seen per emotion type, in
	// the order the types were first seen.
	EmotionNames  []string
	EmotionScores []float64
	Ages          []float64
	TopLabels     []types.LabelDetail
	Faces         int
	Labels        int
	LabelsWithBox int
}

// Summarize computes the chart data for res.
func Summarize(res types.DetectionResult) Stats {
	s := Stats{
		Faces:         len(res.Faces),
		Labels:        len(res.Labels),
		LabelsWithBox: len(res.LabelsWithBoxes()),
		TopLabels:     TopLabels(res.Labels, 8),
	}
	idx := map[string]int{}
	for _, f := range res.Faces {
		for _, e := range f.Emotions {
			i, ok := idx[e.Type]
			if !ok {
				idx[e.Type] = len(s.EmotionNames)
				s.EmotionNames = append(s.EmotionNames, e.Type)
				s.EmotionScores = append(s.EmotionScores, e.Confidence)
				continue
			}
			if e.Confidence > s.EmotionScores[i] {
				s.EmotionScores[i] = e.Confidence
			}
		}
		if f.AgeRange != nil {
			s.Ages = append(s.Ages, f.AgeRange.Midpoint())
		}
	}
	return s
}

// SummaryCharts draws the 2x2 summary: emotions, age distribution, top
// labels and detection counts.
func SummaryCharts(res types.DetectionResult, name string) (image.Image, error) {
	s := Summarize(res)

	emotions, err := emotionsPlot(s)
	if err != nil {
		return nil, err
	}
	ages, err := agePlot(s)
	if err != nil {
		return nil, err
	}
	labels, err := labelsPlot(s)
	if err != nil {
		return nil, err
	}
	counts, err := countsPlot(s)
	if err != nil {
		return nil, err
	}

	const rows, cols = 2, 2
	plots := [][]*plot.Plot{{emotions, ages}, {labels, counts}}

	img := vgimg.New(vg.Points(1200), vg.Points(840))
	dc := draw.New(img)
	t := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Points(30),
		PadY:      vg.Points(30),
		PadTop:    vg.Points(60),
		PadBottom: vg.Points(10),
		PadLeft:   vg.Points(10),
		PadRight:  vg.Points(10),
	}
	canvases := plot.Align(plots, t, dc)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			plots[j][i].Draw(canvases[j][i])
		}
	}

	out := gg.NewContextForImage(img.Image())
	out.SetFontFace(overlay.Face(24))
	out.SetColor(color.Black)
	out.DrawStringAnchored("Detection Summary: "+name, float64(out.Width())/2, 30, 0.5, 0.5)
	return out.Image(), nil
}

// SaveSummaryCharts renders SummaryCharts and writes it under dir.
func SaveSummaryCharts(dir, name string, res types.DetectionResult) (string, error) {
	img, err := SummaryCharts(res, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}
	path := OutputPath(dir, "summary_stats", name)
	if err := gg.SavePNG(path, img); err != nil {
		return "", errors.Wrapf(err, "saving %s", path)
	}
	return path, nil
}

func emotionsPlot(s Stats) (*plot.Plot, error) {
	if len(s.EmotionNames) == 0 {
		msg := "No Faces Detected"
		if s.Faces > 0 {
			msg = "No Emotion Data"
		}
		return emptyPlot("Detected Emotions", msg)
	}
	p := plot.New()
	p.Title.Text = "Detected Emotions (Max Confidence)"
	p.Y.Label.Text = "Confidence %"

	bars, err := plotter.NewBarChart(plotter.Values(s.EmotionScores), vg.Points(30))
	if err != nil {
		return nil, errors.Wrap(err, "emotions chart")
	}
	bars.Color = skyBlue
	p.Add(bars)
	p.NominalX(s.EmotionNames...)
	p.Y.Min, p.Y.Max = 0, 110

	if err := valueLabels(p, s.EmotionScores, false, "%.1f%%"); err != nil {
		return nil, err
	}
	return p, nil
}

func agePlot(s Stats) (*plot.Plot, error) {
	if len(s.Ages) == 0 {
		msg := "No Faces Detected"
		if s.Faces > 0 {
			msg = "No Age Data"
		}
		return emptyPlot("Age Distribution", msg)
	}
	p := plot.New()
	p.Title.Text = "Age Distribution"
	p.X.Label.Text = "Age"
	p.Y.Label.Text = "Count"

	h, err := plotter.NewHist(plotter.Values(s.Ages), len(s.Ages))
	if err != nil {
		return nil, errors.Wrap(err, "age histogram")
	}
	h.FillColor = lightCoral
	p.Add(h)
	return p, nil
}

func labelsPlot(s Stats) (*plot.Plot, error) {
	if len(s.TopLabels) == 0 {
		return emptyPlot("Top Detected Objects/Labels", "No Objects Detected")
	}
	p := plot.New()
	p.Title.Text = "Top Detected Objects/Labels"
	p.X.Label.Text = "Confidence %"

	// Horizontal bars are drawn bottom up, so reverse to keep the most
	// confident label on top.
	n := len(s.TopLabels)
	names := make([]string, n)
	scores := make(plotter.Values, n)
	for i, l := range s.TopLabels {
		names[n-1-i] = l.Name
		scores[n-1-i] = l.Confidence
	}

	bars, err := plotter.NewBarChart(scores, vg.Points(18))
	if err != nil {
		return nil, errors.Wrap(err, "labels chart")
	}
	bars.Horizontal = true
	bars.Color = lightGreen
	p.Add(bars)
	p.NominalY(names...)
	p.X.Min, p.X.Max = 0, 115

	if err := valueLabels(p, scores, true, "%.1f%%"); err != nil {
		return nil, err
	}
	return p, nil
}

func countsPlot(s Stats) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Detection Counts"
	p.Y.Label.Text = "Count"

	counts := []float64{float64(s.Faces), float64(s.Labels), float64(s.LabelsWithBox)}
	for i, c := range counts {
		bars, err := plotter.NewBarChart(plotter.Values{c}, vg.Points(40))
		if err != nil {
			return nil, errors.Wrap(err, "counts chart")
		}
		bars.XMin = float64(i)
		bars.Color = countsColors[i]
		p.Add(bars)
	}
	p.NominalX("Faces", "Total Labels", "Labels w/ Boxes")

	top := 1.0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	p.Y.Min, p.Y.Max = 0, top*1.2

	if err := valueLabels(p, counts, false, "%.0f"); err != nil {
		return nil, err
	}
	return p, nil
}

// valueLabels writes each value just past the end of its bar.
func valueLabels(p *plot.Plot, values []float64, horizontal bool, format string) error {
	xys := make(plotter.XYs, len(values))
	texts := make([]string, len(values))
	for i, v := range values {
		if horizontal {
			xys[i] = plotter.XY{X: v + 1, Y: float64(i)}
		} else {
			xys[i] = plotter.XY{X: float64(i), Y: v + 1}
		}
		texts[i] = fmt.Sprintf(format, v)
	}
	l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return errors.Wrap(err, "value labels")
	}
	for i := range l.TextStyle {
		if horizontal {
			l.TextStyle[i].YAlign = text.YCenter
		} else {
			l.TextStyle[i].XAlign = text.XCenter
		}
	}
	p.Add(l)
	return nil
}

func emptyPlot(title, msg string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	l, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    plotter.XYs{{X: 0.5, Y: 0.5}},
		Labels: []string{msg},
	})
	if err != nil {
		return nil, errors.Wrap(err, "placeholder")
	}
	l.TextStyle[0].XAlign = text.XCenter
	l.TextStyle[0].YAlign = text.YCenter
	p.Add(l)
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	return p, nil
}
