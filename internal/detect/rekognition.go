package detect

import (
	"context"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rtypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// RekognitionOptions tunes the label query.
type RekognitionOptions struct {
	MaxLabels     int
	MinConfidence float64
}

// DefaultRekognitionOptions matches what the console tooling always asked for.
var DefaultRekognitionOptions = RekognitionOptions{MaxLabels: 10, MinConfidence: 70}

// Rekognition detects faces (all attributes) and labels with AWS Rekognition.
type Rekognition struct {
	api    RekognitionAPI
	opts   RekognitionOptions
	logger *zap.Logger
}

// NewRekognition loads the default AWS credential chain for region and
// builds a client.
func NewRekognition(ctx context.Context, region string, opts RekognitionOptions, logger *zap.Logger) (*Rekognition, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS configuration")
	}
	return NewRekognitionWithAPI(rekognition.NewFromConfig(cfg), opts, logger), nil
}

// NewRekognitionWithAPI wraps an existing client, mostly for tests.
func NewRekognitionWithAPI(api RekognitionAPI, opts RekognitionOptions, logger *zap.Logger) *Rekognition {
	if opts.MaxLabels <= 0 {
		opts.MaxLabels = DefaultRekognitionOptions.MaxLabels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rekognition{api: api, opts: opts, logger: logger.Named("rekognition")}
}

// Detect issues DetectFaces and DetectLabels concurrently. If either fails the
// whole call fails; callers never see half a result.
func (r *Rekognition) Detect(ctx context.Context, image []byte) (types.DetectionResult, error) {
	if len(image) == 0 {
		return types.DetectionResult{}, &RemoteServiceError{Op: "detect", Err: errors.New("empty image payload")}
	}
	img := &rtypes.Image{Bytes: image}

	var (
		faces  *rekognition.DetectFacesOutput
		labels *rekognition.DetectLabelsOutput
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.api.DetectFaces(gctx, &rekognition.DetectFacesInput{
			Image:      img,
			Attributes: []rtypes.Attribute{rtypes.AttributeAll},
		})
		if err != nil {
			return &RemoteServiceError{Op: "DetectFaces", Err: err}
		}
		faces = out
		return nil
	})
	g.Go(func() error {
		out, err := r.api.DetectLabels(gctx, &rekognition.DetectLabelsInput{
			Image:         img,
			MaxLabels:     aws.Int32(int32(r.opts.MaxLabels)),
			MinConfidence: aws.Float32(float32(r.opts.MinConfidence)),
		})
		if err != nil {
			return &RemoteServiceError{Op: "DetectLabels", Err: err}
		}
		labels = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.DetectionResult{}, err
	}

	res := types.DetectionResult{
		Faces:  convertFaces(faces.FaceDetails),
		Labels: convertLabels(labels.Labels),
	}
	r.logger.Debug("detection complete", zap.Int("faces", len(res.Faces)), zap.Int("labels", len(res.Labels)))
	return res, nil
}

func convertBox(b *rtypes.BoundingBox) types.BoundingBox {
	if b == nil {
		return types.BoundingBox{}
	}
	return types.BoundingBox{
		Left:   float64(aws.ToFloat32(b.Left)),
		Top:    float64(aws.ToFloat32(b.Top)),
		Width:  float64(aws.ToFloat32(b.Width)),
		Height: float64(aws.ToFloat32(b.Height)),
	}
}

func convertFaces(in []rtypes.FaceDetail) []types.FaceDetail {
	out := make([]types.FaceDetail, 0, len(in))
	for _, f := range in {
		fd := types.FaceDetail{
			Box:        convertBox(f.BoundingBox),
			Confidence: float64(aws.ToFloat32(f.Confidence)),
		}
		if f.AgeRange != nil {
			fd.AgeRange = &types.AgeRange{
				Low:  int(aws.ToInt32(f.AgeRange.Low)),
				High: int(aws.ToInt32(f.AgeRange.High)),
			}
		}
		if f.Gender != nil {
			fd.Gender = &types.Gender{
				Value:      string(f.Gender.Value),
				Confidence: float64(aws.ToFloat32(f.Gender.Confidence)),
			}
		}
		for _, e := range f.Emotions {
			fd.Emotions = append(fd.Emotions, types.Emotion{
				Type:       string(e.Type),
				Confidence: float64(aws.ToFloat32(e.Confidence)),
			})
		}
		if f.Smile != nil {
			fd.Smile = &types.Attribute{Value: f.Smile.Value, Confidence: float64(aws.ToFloat32(f.Smile.Confidence))}
		}
		if f.Eyeglasses != nil {
			fd.Eyeglasses = &types.Attribute{Value: f.Eyeglasses.Value, Confidence: float64(aws.ToFloat32(f.Eyeglasses.Confidence))}
		}
		out = append(out, fd)
	}
	return out
}

func convertLabels(in []rtypes.Label) []types.LabelDetail {
	out := make([]types.LabelDetail, 0, len(in))
	for _, l := range in {
		ld := types.LabelDetail{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		}
		for _, inst := range l.Instances {
			li := types.LabelInstance{Box: convertBox(inst.BoundingBox)}
			if inst.Confidence != nil {
				c := float64(*inst.Confidence)
				li.Confidence = &c
			}
			ld.Instances = append(ld.Instances, li)
		}
		out = append(out, ld)
	}
	return out
}
