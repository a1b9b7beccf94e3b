package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/andresmejia3/vigil/internal/detect"
	"github.com/andresmejia3/vigil/internal/encode"
	"github.com/andresmejia3/vigil/internal/imagesrc"
	"github.com/andresmejia3/vigil/internal/report"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type imageOptions struct {
	Samples       bool
	RPS           float64
	Timeout       time.Duration
	Detector      string
	EngineCmd     string
	MaxLabels     int
	MinConfidence float64
	NoSave        bool
}

var imageOpts imageOptions

var imageCmd = &cobra.Command{
	Use:   "image [file | http(s) url | s3://bucket/key | s3://bucket/prefix/]...",
	Short: "Analyze still images and save annotated visualizations and charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImage(cmd.Context(), args, imageOpts)
	},
}

func init() {
	f := imageCmd.Flags()
	f.BoolVar(&imageOpts.Samples, "samples", false, "Also analyze the built-in sample photos")
	f.Float64Var(&imageOpts.RPS, "rps", 5, "Maximum detection requests per second")
	f.DurationVar(&imageOpts.Timeout, "timeout", 30*time.Second, "Upper bound for one remote analysis")
	f.StringVar(&imageOpts.Detector, "detector", "rekognition", "Detection backend: rekognition or engine")
	f.StringVar(&imageOpts.EngineCmd, "engine-cmd", "", "Command that starts a local detection engine (with --detector engine)")
	f.IntVar(&imageOpts.MaxLabels, "max-labels", detect.DefaultRekognitionOptions.MaxLabels, "Maximum labels per image")
	f.Float64Var(&imageOpts.MinConfidence, "min-confidence", detect.DefaultRekognitionOptions.MinConfidence, "Minimum label confidence (0-100)")
	f.BoolVar(&imageOpts.NoSave, "no-save", false, "Print reports only, do not write PNG files")
	rootCmd.AddCommand(imageCmd)
}

func validateImageFlags(args []string, opts imageOptions) error {
	if len(args) == 0 && !opts.Samples {
		return errors.New("nothing to analyze: pass image references or --samples")
	}
	if opts.RPS <= 0 {
		return errors.Errorf("rps must be > 0, got %v", opts.RPS)
	}
	if opts.Timeout <= 0 {
		return errors.Errorf("timeout must be > 0, got %s", opts.Timeout)
	}
	if opts.Detector == "engine" && opts.EngineCmd == "" {
		return errors.New("--detector engine needs --engine-cmd")
	}
	if opts.Detector != "engine" && opts.Detector != "rekognition" {
		return errors.Errorf("unknown detector %q (use rekognition or engine)", opts.Detector)
	}
	return nil
}

// imageRefs parses args and appends the samples when asked to.
func imageRefs(args []string, samples bool) ([]imagesrc.Ref, bool, error) {
	var refs []imagesrc.Ref
	needS3 := false
	for _, a := range args {
		r, err := imagesrc.Parse(a)
		if err != nil {
			return nil, false, err
		}
		if r.Kind == imagesrc.S3Object || r.Kind == imagesrc.S3Bucket {
			needS3 = true
		}
		refs = append(refs, r)
	}
	if samples {
		refs = append(refs, imagesrc.Samples...)
	}
	return refs, needS3, nil
}

func runImage(ctx context.Context, args []string, opts imageOptions) error {
	if err := validateImageFlags(args, opts); err != nil {
		return errors.Wrap(err, "invalid flags")
	}
	refs, needS3, err := imageRefs(args, opts.Samples)
	if err != nil {
		return err
	}

	// A nil *s3.Client must not end up in the interface
	var s3Client imagesrc.S3API
	if needS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(Cfg.Region))
		if err != nil {
			return errors.Wrap(err, "loading AWS configuration")
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}
	fetcher := imagesrc.NewFetcher(s3Client)

	refs, err = fetcher.Expand(ctx, refs)
	if err != nil {
		return errors.Wrap(err, "listing images")
	}

	det, closeDet, err := newDetector(ctx, opts.Detector, opts.EngineCmd, detect.RekognitionOptions{
		MaxLabels:     opts.MaxLabels,
		MinConfidence: opts.MinConfidence,
	})
	if err != nil {
		return err
	}
	defer closeDet()
	det = detect.WithTimeout(opts.Timeout, det)

	if !opts.NoSave {
		if err := os.MkdirAll(Cfg.OutputDir, 0755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
	}

	var bar *progressbar.ProgressBar
	if len(refs) > 1 {
		bar = progressbar.NewOptions(len(refs),
			progressbar.OptionSetDescription("🔍 Analyzing images"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RPS), 1)
	failed := 0
	for _, ref := range refs {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := analyzeImage(ctx, fetcher, det, ref, !opts.NoSave); err != nil {
			failed++
			Logger.Warn("image analysis failed", zap.String("image", ref.Name), zap.Error(err))
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d images failed\n", failed, len(refs))
	}
	if failed == len(refs) {
		return errors.New("no image could be analyzed")
	}
	if !opts.NoSave {
		fmt.Fprintf(os.Stderr, "💾 Results saved in %s\n", Cfg.OutputDir)
	}
	return nil
}

// analyzeImage fetches one image, detects, prints the report and saves both
// PNGs when save is set.
func analyzeImage(ctx context.Context, f *imagesrc.Fetcher, det detect.Detector, ref imagesrc.Ref, save bool) error {
	img, err := f.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return errors.Wrapf(err, "decoding %s", img.Name)
	}

	// Rekognition takes at most 5 MiB inline
	payload := img.Data
	if len(payload) > encode.MaxPayload {
		if payload, err = encode.DefaultJPEG.Encode(decoded); err != nil {
			return err
		}
	}

	res, err := det.Detect(ctx, payload)
	if err != nil {
		return err
	}
	report.PrintDetailed(os.Stdout, img.Name, res)

	if !save {
		return nil
	}
	vis, err := report.SaveVisualization(Cfg.OutputDir, img.Name, decoded, res)
	if err != nil {
		return err
	}
	charts, err := report.SaveSummaryCharts(Cfg.OutputDir, img.Name, res)
	if err != nil {
		return err
	}
	Logger.Info("saved results", zap.String("visualization", vis), zap.String("charts", charts))
	return nil
}
