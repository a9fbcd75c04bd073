package source

import (
	"fmt"
	"image"
	"time"

	"github.com/driftbg/driftbg/internal/cache"
	"github.com/driftbg/driftbg/internal/decode"
)

// staticSource serves a single decoded image. The decode goes through the
// shared cache so multiple wallpapers showing the same file hold one copy.
type staticSource struct {
	path     string
	cache    *cache.Cache
	img      image.Image
	prepared bool
}

func newStatic(path string, imgCache *cache.Cache) *staticSource {
	return &staticSource{path: path, cache: imgCache}
}

func (s *staticSource) Prepare(width, height int) error {
	if s.prepared {
		return nil
	}

	key := cache.Key{Path: s.path, ModTime: decode.ModTime(s.path)}
	img, err := s.cache.GetOrInsert(key, func() (image.Image, error) {
		return decode.File(s.path)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	s.img = img
	s.prepared = true
	return nil
}

func (s *staticSource) NextFrame() (Frame, error) {
	if !s.prepared {
		return Frame{}, ErrNotReady
	}
	return Frame{Image: s.img, Timestamp: time.Now()}, nil
}

func (s *staticSource) FrameDuration() time.Duration { return Forever }

func (s *staticSource) IsAnimated() bool { return false }

func (s *staticSource) Release() {
	s.img = nil
	s.prepared = false
}

func (s *staticSource) Description() string {
	return fmt.Sprintf("static image: %s", s.path)
}
