// Package report prints and draws detection results for people: the live
// per-frame console dump, the detailed still-image report, the side by side
// visualization and the summary charts.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/vigil/internal/scheduler"
	"github.com/andresmejia3/vigil/internal/types"
)

// Console is a scheduler.Sink that prints each analysis as it happens.
type Console struct {
	Out io.Writer
	mu  sync.Mutex
}

func NewConsole(w io.Writer) *Console { return &Console{Out: w} }

func (c *Console) Emit(e scheduler.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case scheduler.EventAnalysis:
		PrintFrameAnalysis(c.Out, e.FrameIndex, e.Count, e.Result)
	case scheduler.EventFailure:
		fmt.Fprintf(c.Out, "\n⚠️  Frame %d analysis failed (%s): %v\n", e.FrameIndex, e.Stage, e.Err)
	}
}

// PrintFrameAnalysis writes the short per-frame summary: faces with age,
// gender and top emotion, then the five most confident labels. count is the
// running number of analyses in the session and is left out when zero.
func PrintFrameAnalysis(w io.Writer, index, count int, res types.DetectionResult) {
	if count > 0 {
		fmt.Fprintf(w, "\n--- Frame %d Analysis #%d ---\n", index, count)
	} else {
		fmt.Fprintf(w, "\n--- Frame %d Analysis ---\n", index)
	}

	if len(res.Faces) > 0 {
		fmt.Fprintf(w, "🔍 Detected %d face(s):\n", len(res.Faces))
		for i, f := range res.Faces {
			fmt.Fprintf(w, "  Face %d: %.1f%% confidence\n", i+1, f.Confidence)
			if f.AgeRange != nil {
				fmt.Fprintf(w, "    Age: %d-%d\n", f.AgeRange.Low, f.AgeRange.High)
			}
			if f.Gender != nil {
				fmt.Fprintf(w, "    Gender: %s (%.1f%%)\n", f.Gender.Value, f.Gender.Confidence)
			}
			if e, ok := f.TopEmotion(); ok {
				fmt.Fprintf(w, "    Emotion: %s (%.1f%%)\n", e.Type, e.Confidence)
			}
		}
	} else {
		fmt.Fprintln(w, "🔍 No faces detected")
	}

	if len(res.Labels) > 0 {
		fmt.Fprintf(w, "🏷️  Detected %d object(s)/label(s):\n", len(res.Labels))
		for _, l := range TopLabels(res.Labels, 5) {
			fmt.Fprintf(w, "  %s: %.1f%%\n", l.Name, l.Confidence)
		}
	} else {
		fmt.Fprintln(w, "🏷️  No objects detected")
	}

	fmt.Fprintln(w, strings.Repeat("-", 40))
}

// TopLabels returns at most n labels, most confident first. The input is
// not modified.
func TopLabels(labels []types.LabelDetail, n int) []types.LabelDetail {
	out := append([]types.LabelDetail(nil), labels...)
	// equal confidences keep detector order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
