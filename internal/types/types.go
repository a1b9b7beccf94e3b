package types

// BoundingBox is a rectangle in normalized image coordinates.
// All four values are fractions of the frame dimensions.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AgeRange is the estimated age bracket of a face, in years
type AgeRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Midpoint is used for age histograms
func (a AgeRange) Midpoint() float64 {
	return float64(a.Low+a.High) / 2
}

type Gender struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Emotion struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Attribute is a boolean face attribute (smile, eyeglasses) with its confidence
type Attribute struct {
	Value      bool    `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FaceDetail is a single detected face. Optional attributes are nil when the
// detector did not report them.
type FaceDetail struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	AgeRange   *AgeRange   `json:"age_range,omitempty"`
	Gender     *Gender     `json:"gender,omitempty"`
	Emotions   []Emotion   `json:"emotions,omitempty"`
	Smile      *Attribute  `json:"smile,omitempty"`
	Eyeglasses *Attribute  `json:"eyeglasses,omitempty"`
}

// TopEmotion returns the emotion with the highest confidence.
func (f FaceDetail) TopEmotion() (Emotion, bool) {
	if len(f.Emotions) == 0 {
		return Emotion{}, false
	}
	best := f.Emotions[0]
	for _, e := range f.Emotions[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best, true
}

// LabelInstance is one located occurrence of a label
type LabelInstance struct {
	Box        BoundingBox `json:"box"`
	Confidence *float64    `json:"confidence,omitempty"`
}

type LabelDetail struct {
	Name       string          `json:"name"`
	Confidence float64         `json:"confidence"`
	Instances  []LabelInstance `json:"instances,omitempty"`
}

// DetectionResult is everything the detector reported for one image.
// It is produced as a whole per analysis call, never partially.
type DetectionResult struct {
	Faces  []FaceDetail  `json:"faces"`
	Labels []LabelDetail `json:"labels"`
}

// Empty reports whether nothing was detected
func (r DetectionResult) Empty() bool {
	return len(r.Faces) == 0 && len(r.Labels) == 0
}

// LabelsWithBoxes returns the labels that carry at least one located instance.
func (r DetectionResult) LabelsWithBoxes() []LabelDetail {
	var out []LabelDetail
	for _, l := range r.Labels {
		if len(l.Instances) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// Clone returns a deep copy so results handed to event consumers
// cannot be mutated through shared slices.
func (r DetectionResult) Clone() DetectionResult {
	out := DetectionResult{
		Faces:  make([]FaceDetail, len(r.Faces)),
		Labels: make([]LabelDetail, len(r.Labels)),
	}
	for i, f := range r.Faces {
		c := f
		if f.AgeRange != nil {
			a := *f.AgeRange
			c.AgeRange = &a
		}
		if f.Gender != nil {
			g := *f.Gender
			c.Gender = &g
		}
		if f.Smile != nil {
			s := *f.Smile
			c.Smile = &s
		}
		if f.Eyeglasses != nil {
			e := *f.Eyeglasses
			c.Eyeglasses = &e
		}
		c.Emotions = append([]Emotion(nil), f.Emotions...)
		out.Faces[i] = c
	}
	for i, l := range r.Labels {
		c := l
		c.Instances = make([]LabelInstance, len(l.Instances))
		for j, inst := range l.Instances {
			ci := inst
			if inst.Confidence != nil {
				v := *inst.Confidence
				ci.Confidence = &v
			}
			c.Instances[j] = ci
		}
		out.Labels[i] = c
	}
	return out
}

// ErrorResult captures the error object a detection engine returns on failure
type ErrorResult struct {
	Error string `json:"error"`
}
