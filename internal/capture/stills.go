package capture

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Stills yields each image file once, in order, then ends the stream.
type Stills struct {
	Paths []string
	next  int
}

func NewStills(paths ...string) *Stills {
	return &Stills{Paths: paths}
}

func (s *Stills) Name() string { return strings.Join(s.Paths, ",") }

func (s *Stills) Open(ctx context.Context) error {
	if len(s.Paths) == 0 {
		return unavailable("stills", errors.New("no images given"))
	}
	for _, p := range s.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return unavailable(p, err)
		}
		if info.IsDir() {
			return unavailable(p, errors.New("is a directory"))
		}
	}
	s.next = 0
	return nil
}

func (s *Stills) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.Paths) {
		return nil, ErrStreamEnded
	}
	p := s.Paths[s.next]
	s.next++

	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", p)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", p)
	}
	return img, nil
}

func (s *Stills) Close() error { return nil }
