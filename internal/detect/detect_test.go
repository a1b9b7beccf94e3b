package detect

import (
	"context"
	"testing"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rtypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/pkg/errors"
)

type fakeRekognition struct {
	faces     *rekognition.DetectFacesOutput
	labels    *rekognition.DetectLabelsOutput
	facesErr  error
	labelsErr error

	gotFaces  *rekognition.DetectFacesInput
	gotLabels *rekognition.DetectLabelsInput
}

func (f *fakeRekognition) DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, _ ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	f.gotFaces = in
	if f.facesErr != nil {
		return nil, f.facesErr
	}
	return f.faces, nil
}

func (f *fakeRekognition) DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, _ ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	f.gotLabels = in
	if f.labelsErr != nil {
		return nil, f.labelsErr
	}
	return f.labels, nil
}

func TestRekognitionDetect(t *testing.T) {
	api := &fakeRekognition{
		faces: &rekognition.DetectFacesOutput{FaceDetails: []rtypes.FaceDetail{{
			BoundingBox: &rtypes.BoundingBox{Left: aws.Float32(0.25), Top: aws.Float32(0.5), Width: aws.Float32(0.125), Height: aws.Float32(0.25)},
			Confidence:  aws.Float32(99.5),
			AgeRange:    &rtypes.AgeRange{Low: aws.Int32(20), High: aws.Int32(30)},
			Gender:      &rtypes.Gender{Value: rtypes.GenderTypeFemale, Confidence: aws.Float32(98)},
			Emotions: []rtypes.Emotion{
				{Type: rtypes.EmotionNameCalm, Confidence: aws.Float32(12)},
				{Type: rtypes.EmotionNameHappy, Confidence: aws.Float32(85)},
			},
		}}},
		labels: &rekognition.DetectLabelsOutput{Labels: []rtypes.Label{
			{Name: aws.String("Person"), Confidence: aws.Float32(99), Instances: []rtypes.Instance{
				{BoundingBox: &rtypes.BoundingBox{Left: aws.Float32(0.5)}, Confidence: aws.Float32(97)},
			}},
			{Name: aws.String("Indoors"), Confidence: aws.Float32(80)},
		}},
	}

	r := NewRekognitionWithAPI(api, DefaultRekognitionOptions, nil)
	res, err := r.Detect(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(api.gotFaces.Attributes) != 1 || api.gotFaces.Attributes[0] != rtypes.AttributeAll {
		t.Errorf("Expected all face attributes requested, got %v", api.gotFaces.Attributes)
	}
	if aws.ToInt32(api.gotLabels.MaxLabels) != 10 || aws.ToFloat32(api.gotLabels.MinConfidence) != 70 {
		t.Errorf("Unexpected label query: max=%d min=%v", aws.ToInt32(api.gotLabels.MaxLabels), aws.ToFloat32(api.gotLabels.MinConfidence))
	}

	if len(res.Faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(res.Faces))
	}
	f := res.Faces[0]
	if f.Box != (types.BoundingBox{Left: 0.25, Top: 0.5, Width: 0.125, Height: 0.25}) {
		t.Errorf("Unexpected box %+v", f.Box)
	}
	if f.AgeRange == nil || f.AgeRange.Low != 20 || f.AgeRange.High != 30 {
		t.Errorf("Unexpected age range %+v", f.AgeRange)
	}
	if f.Gender == nil || f.Gender.Value != "Female" {
		t.Errorf("Unexpected gender %+v", f.Gender)
	}
	if top, _ := f.TopEmotion(); top.Type != "HAPPY" {
		t.Errorf("Expected top emotion HAPPY, got %s", top.Type)
	}

	if len(res.Labels) != 2 || res.Labels[0].Name != "Person" || len(res.Labels[0].Instances) != 1 {
		t.Errorf("Unexpected labels %+v", res.Labels)
	}
	if c := res.Labels[0].Instances[0].Confidence; c == nil || *c != 97 {
		t.Errorf("Unexpected instance confidence %v", c)
	}
}

func TestRekognitionDetect_PartialFailureFailsWhole(t *testing.T) {
	tests := []struct {
		name      string
		facesErr  error
		labelsErr error
		wantOp    string
	}{
		{"Faces fail", errors.New("throttled"), nil, "DetectFaces"},
		{"Labels fail", nil, errors.New("access denied"), "DetectLabels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeRekognition{
				faces:     &rekognition.DetectFacesOutput{},
				labels:    &rekognition.DetectLabelsOutput{},
				facesErr:  tt.facesErr,
				labelsErr: tt.labelsErr,
			}
			res, err := NewRekognitionWithAPI(api, DefaultRekognitionOptions, nil).Detect(context.Background(), []byte("img"))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			var rse *RemoteServiceError
			if !errors.As(err, &rse) {
				t.Fatalf("Expected RemoteServiceError, got %T", err)
			}
			if rse.Op != tt.wantOp {
				t.Errorf("Expected op %s, got %s", tt.wantOp, rse.Op)
			}
			if !res.Empty() {
				t.Errorf("Expected empty result on failure, got %+v", res)
			}
		})
	}
}

func TestRekognitionDetect_EmptyPayload(t *testing.T) {
	_, err := NewRekognitionWithAPI(&fakeRekognition{}, DefaultRekognitionOptions, nil).Detect(context.Background(), nil)
	var rse *RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("Expected RemoteServiceError for empty payload, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	blocking := DetectorFunc(func(ctx context.Context, _ []byte) (types.DetectionResult, error) {
		<-ctx.Done()
		return types.DetectionResult{}, ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(20*time.Millisecond, blocking).Detect(context.Background(), []byte("img"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Timeout did not bound the call, took %v", elapsed)
	}

	var rse *RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("Expected RemoteServiceError, got %v", err)
	}
	if !rse.Timeout() {
		t.Errorf("Expected Timeout() to be true for %v", err)
	}
}

func TestWithTimeout_PassesResultThrough(t *testing.T) {
	want := types.DetectionResult{Faces: []types.FaceDetail{{Confidence: 90}}}
	d := DetectorFunc(func(context.Context, []byte) (types.DetectionResult, error) { return want, nil })

	got, err := WithTimeout(time.Second, d).Detect(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got.Faces) != 1 || got.Faces[0].Confidence != 90 {
		t.Errorf("Unexpected result %+v", got)
	}

	if WithTimeout(0, d) == nil {
		t.Error("WithTimeout(0) returned nil detector")
	}
}

func TestAsRemote(t *testing.T) {
	if AsRemote("x", nil) != nil {
		t.Error("AsRemote(nil) should be nil")
	}
	inner := &RemoteServiceError{Op: "DetectFaces", Err: errors.New("boom")}
	if got := AsRemote("detect", inner); got != error(inner) {
		t.Errorf("AsRemote rewrapped an existing RemoteServiceError: %v", got)
	}
	if got := AsRemote("detect", errors.New("plain")).Error(); got != "remote service: detect: plain" {
		t.Errorf("Unexpected message %q", got)
	}
}
