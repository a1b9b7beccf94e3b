package imagesrc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		kind   Kind
		name   string
		bucket string
		key    string
	}{
		{"photo.jpg", File, "photo.jpg", "", ""},
		{"https://example.com/a/b/cat.png?x=1", HTTP, "cat.png", "", ""},
		{"https://example.com", HTTP, "example.com", "", ""},
		{"s3://bucket/dir/img.jpg", S3Object, "dir/img.jpg", "bucket", "dir/img.jpg"},
		{"s3://bucket/", S3Bucket, "bucket", "bucket", ""},
		{"s3://bucket", S3Bucket, "bucket", "bucket", ""},
		{"s3://bucket/dir/", S3Bucket, "bucket", "bucket", "dir/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if r.Kind != tt.kind || r.Name != tt.name || r.Bucket != tt.bucket || r.Key != tt.key {
				t.Errorf("Parse(%q) = %+v", tt.in, r)
			}
		})
	}

	if _, err := Parse("s3:///key"); err == nil {
		t.Error("Expected error for missing bucket")
	}
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	ref, _ := Parse(srv.URL + "/ok.jpg")
	img, err := f.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if img.Name != "ok.jpg" || len(img.Data) != 4 {
		t.Errorf("Unexpected image %q with %d bytes", img.Name, len(img.Data))
	}

	ref, _ = Parse(srv.URL + "/missing.jpg")
	if _, err := f.Fetch(context.Background(), ref); err == nil {
		t.Error("Expected error for 404")
	}
}

func TestFetch_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	os.WriteFile(path, []byte("jpeg"), 0644)
	empty := filepath.Join(dir, "empty.jpg")
	os.WriteFile(empty, nil, 0644)

	f := NewFetcher(nil)
	if img, err := f.Fetch(context.Background(), Ref{Kind: File, Name: path, Location: path}); err != nil || string(img.Data) != "jpeg" {
		t.Errorf("Unexpected result %q, %v", img.Data, err)
	}
	if _, err := f.Fetch(context.Background(), Ref{Kind: File, Name: empty, Location: empty}); err == nil {
		t.Error("Expected error for empty file")
	}
}

type fakeS3 struct {
	pages   [][]string
	objects map[string]string
	calls   int
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.pages[f.calls]
	f.calls++
	out := &s3.ListObjectsV2Output{}
	for _, k := range page {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if f.calls < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestExpandAndFetch_S3(t *testing.T) {
	fake := &fakeS3{
		pages:   [][]string{{"a.jpg", "dir/"}, {"b.png"}},
		objects: map[string]string{"a.jpg": "AAAA", "b.png": "BB"},
	}
	f := NewFetcher(fake)

	bucket, _ := Parse("s3://photos/")
	single, _ := Parse("local.jpg")
	refs, err := f.Expand(context.Background(), []Ref{single, bucket})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(refs) != 3 || refs[0].Kind != File || refs[1].Key != "a.jpg" || refs[2].Key != "b.png" {
		t.Fatalf("Unexpected refs %+v", refs)
	}
	if fake.calls != 2 {
		t.Errorf("Expected both listing pages to be read, got %d calls", fake.calls)
	}

	img, err := f.Fetch(context.Background(), refs[1])
	if err != nil || string(img.Data) != "AAAA" {
		t.Errorf("Unexpected object %q, %v", img.Data, err)
	}
	if _, err := f.Fetch(context.Background(), Ref{Kind: S3Object, Name: "gone", Bucket: "photos", Key: "gone"}); err == nil {
		t.Error("Expected error for missing key")
	}
}

func TestExpand_EmptyBucket(t *testing.T) {
	f := NewFetcher(&fakeS3{pages: [][]string{{}}})
	bucket, _ := Parse("s3://empty/")
	if _, err := f.Expand(context.Background(), []Ref{bucket}); err == nil {
		t.Error("Expected error for empty bucket")
	}
}

func TestExpand_NoClient(t *testing.T) {
	bucket, _ := Parse("s3://photos/")
	if _, err := NewFetcher(nil).Expand(context.Background(), []Ref{bucket}); err == nil {
		t.Error("Expected error without an S3 client")
	}
}
