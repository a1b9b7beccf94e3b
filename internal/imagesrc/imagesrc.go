// Package imagesrc resolves still-image references (local paths, http(s)
// URLs and s3:// objects) into bytes ready for detection.
package imagesrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// MaxBytes bounds a single download.
const MaxBytes = 32 << 20

type Kind int

const (
	File Kind = iota
	HTTP
	S3Object
	// S3Bucket lists every object under a bucket prefix.
	S3Bucket
)

// Ref is a parsed image reference.
type Ref struct {
	Kind Kind
	// Name is used for report titles and output file names.
	Name string
	// Location is the path or URL for File and HTTP refs.
	Location string
	Bucket   string
	Key      string
}

// Image is a fetched image.
type Image struct {
	Name string
	Data []byte
}

// Sample images used by `vigil image --samples`.
var Samples = []Ref{
	{Kind: HTTP, Name: "People in a meeting", Location: "https://images.unsplash.com/photo-1552664730-d307ca884978?w=800&h=600&fit=crop"},
	{Kind: HTTP, Name: "Person with objects", Location: "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?w=800&h=600&fit=crop"},
	{Kind: HTTP, Name: "Office scene", Location: "https://images.unsplash.com/photo-1497366216548-37526070297c?w=800&h=600&fit=crop"},
}

// Parse classifies ref. "s3://bucket/" and "s3://bucket/prefix/" list
// objects; any other s3 URL names a single object.
func Parse(ref string) (Ref, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		rest := strings.TrimPrefix(ref, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Ref{}, errors.Errorf("missing bucket in %q", ref)
		}
		if key == "" || strings.HasSuffix(key, "/") {
			return Ref{Kind: S3Bucket, Name: bucket, Bucket: bucket, Key: key}, nil
		}
		return Ref{Kind: S3Object, Name: key, Bucket: bucket, Key: key}, nil

	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return Ref{}, errors.Wrapf(err, "invalid url %q", ref)
		}
		name := path.Base(u.Path)
		if name == "/" || name == "." {
			name = u.Host
		}
		return Ref{Kind: HTTP, Name: name, Location: ref}, nil
	}
	return Ref{Kind: File, Name: ref, Location: ref}, nil
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher reads image bytes. S3 may be nil when no s3 refs are used.
type Fetcher struct {
	HTTP *http.Client
	S3   S3API
}

func NewFetcher(s3Client S3API) *Fetcher {
	return &Fetcher{HTTP: &http.Client{Timeout: 30 * time.Second}, S3: s3Client}
}

// Expand resolves bucket listings into one ref per object, keeping order.
func (f *Fetcher) Expand(ctx context.Context, refs []Ref) ([]Ref, error) {
	var out []Ref
	for _, r := range refs {
		if r.Kind != S3Bucket {
			out = append(out, r)
			continue
		}
		if f.S3 == nil {
			return nil, errors.New("s3 client not configured")
		}

		p := s3.NewListObjectsV2Paginator(f.S3, &s3.ListObjectsV2Input{
			Bucket: aws.String(r.Bucket),
			Prefix: aws.String(r.Key),
		})
		found := 0
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "listing s3://%s/%s", r.Bucket, r.Key)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue
				}
				out = append(out, Ref{Kind: S3Object, Name: key, Bucket: r.Bucket, Key: key})
				found++
			}
		}
		if found == 0 {
			return nil, errors.Errorf("no objects found in s3://%s/%s", r.Bucket, r.Key)
		}
	}
	return out, nil
}

// Fetch reads the bytes behind r.
func (f *Fetcher) Fetch(ctx context.Context, r Ref) (Image, error) {
	var (
		data []byte
		err  error
	)
	switch r.Kind {
	case File:
		data, err = os.ReadFile(r.Location)
	case HTTP:
		data, err = f.download(ctx, r.Location)
	case S3Object:
		data, err = f.getObject(ctx, r.Bucket, r.Key)
	default:
		return Image{}, errors.Errorf("cannot fetch %q directly, expand it first", r.Name)
	}
	if err != nil {
		return Image{}, errors.Wrapf(err, "fetching %s", r.Name)
	}
	if len(data) == 0 {
		return Image{}, errors.Errorf("%s is empty", r.Name)
	}
	return Image{Name: r.Name, Data: data}, nil
}

func (f *Fetcher) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return readLimited(resp.Body)
}

func (f *Fetcher) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.S3 == nil {
		return nil, errors.New("s3 client not configured")
	}
	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return readLimited(out.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBytes {
		return nil, errors.Errorf("image larger than %d bytes", MaxBytes)
	}
	return data, nil
}
