package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintDetailed writes the full still-image report as two tables.
func PrintDetailed(w io.Writer, name string, res types.DetectionResult) {
	fmt.Fprintf(w, "\n%s\n🔍 Analysis Results for: %s\n%s\n", strings.Repeat("=", 50), name, strings.Repeat("=", 50))

	if len(res.Faces) == 0 {
		fmt.Fprintln(w, "\n👥 No faces detected")
	} else {
		fmt.Fprintf(w, "\n👥 FACES DETECTED: %d\n", len(res.Faces))
		fmt.Fprintln(w, FacesTable(res.Faces))
	}

	if len(res.Labels) == 0 {
		fmt.Fprintln(w, "\n🏷️  No objects/labels detected")
	} else {
		fmt.Fprintf(w, "\n🏷️  OBJECTS/LABELS DETECTED: %d\n", len(res.Labels))
		fmt.Fprintln(w, LabelsTable(res.Labels))
	}
}

func FacesTable(faces []types.FaceDetail) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Confidence", "Age", "Gender", "Primary Emotion", "Smiling", "Eyeglasses"})
	for i, f := range faces {
		age := "N/A"
		if f.AgeRange != nil {
			age = fmt.Sprintf("%d-%d", f.AgeRange.Low, f.AgeRange.High)
		}
		gender := "N/A"
		if f.Gender != nil {
			gender = fmt.Sprintf("%s (%.1f%%)", f.Gender.Value, f.Gender.Confidence)
		}
		emotion := "N/A"
		if e, ok := f.TopEmotion(); ok {
			emotion = fmt.Sprintf("%s (%.1f%%)", e.Type, e.Confidence)
		}
		t.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("%.1f%%", f.Confidence),
			age,
			gender,
			emotion,
			attribute(f.Smile),
			attribute(f.Eyeglasses),
		})
	}
	return t.Render()
}

// LabelsTable lists every label with its instance count and the confidence
// of its first three instances.
func LabelsTable(labels []types.LabelDetail) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Label", "Confidence", "Instances", "Instance Confidence"})
	for _, l := range labels {
		var confs []string
		for i, inst := range l.Instances {
			if i == 3 {
				break
			}
			if inst.Confidence != nil {
				confs = append(confs, fmt.Sprintf("%.1f%%", *inst.Confidence))
			} else {
				confs = append(confs, "N/A")
			}
		}
		t.AppendRow(table.Row{
			"📍 " + l.Name,
			fmt.Sprintf("%.1f%%", l.Confidence),
			len(l.Instances),
			strings.Join(confs, ", "),
		})
	}
	return t.Render()
}

func attribute(a *types.Attribute) string {
	if a == nil {
		return "N/A"
	}
	return fmt.Sprintf("%t (%.1f%%)", a.Value, a.Confidence)
}
