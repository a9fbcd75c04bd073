package source

import (
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kettek/apng"

	"github.com/driftbg/driftbg/internal/decode"
)

// maxAnimatedFrames bounds decoded animations so a pathological file cannot
// exhaust memory.
const maxAnimatedFrames = 5000

// minFrameDelay is the floor applied to per-frame delays; many GIFs in the
// wild declare 0.
const minFrameDelay = 10 * time.Millisecond

type animatedConfig struct {
	path      string
	fpsLimit  int
	loopCount int // 0 means loop forever
}

type animatedFrame struct {
	image image.Image
	delay time.Duration
}

// animatedSource plays GIF and APNG animations frame by frame; a WebP file
// shows its first frame only. All frames are decoded up front on the first
// Prepare.
type animatedSource struct {
	cfg animatedConfig

	frames   []animatedFrame
	cursor   int
	loops    int
	finished bool
	prepared bool
}

func newAnimated(cfg animatedConfig) *animatedSource {
	return &animatedSource{cfg: cfg}
}

func isAnimatedPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif", ".apng", ".webp":
		return true
	}
	return false
}

func (s *animatedSource) Prepare(width, height int) error {
	if s.prepared {
		return nil
	}

	if err := s.loadFrames(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if len(s.frames) == 0 {
		return fmt.Errorf("%w: no frames in %s", ErrNotReady, s.cfg.path)
	}

	log.Infof("loaded animated image %s: %d frames", s.cfg.path, len(s.frames))
	s.prepared = true
	return nil
}

func (s *animatedSource) loadFrames() error {
	switch strings.ToLower(filepath.Ext(s.cfg.path)) {
	case ".gif":
		return s.loadGIF()
	case ".apng", ".png":
		return s.loadAPNG()
	case ".webp":
		// The WebP decoder handles still images only; an animated file plays
		// as its first frame.
		return s.loadStill()
	default:
		return fmt.Errorf("unsupported animated format %q", filepath.Ext(s.cfg.path))
	}
}

func (s *animatedSource) loadGIF() error {
	f, err := os.Open(s.cfg.path)
	if err != nil {
		return err
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return fmt.Errorf("decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return fmt.Errorf("gif has no frames")
	}

	// Composite frames onto a persistent canvas so partial frames render
	// correctly.
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	for i, frame := range g.Image {
		if i >= maxAnimatedFrames {
			log.Warnf("%s: truncating animation at %d frames", s.cfg.path, maxAnimatedFrames)
			break
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		snapshot := image.NewRGBA(bounds)
		copy(snapshot.Pix, canvas.Pix)

		delay := time.Duration(g.Delay[i]) * 10 * time.Millisecond
		s.frames = append(s.frames, animatedFrame{image: snapshot, delay: s.clampDelay(delay)})

		if i < len(g.Disposal) && g.Disposal[i] != gif.DisposalNone {
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}
	return nil
}

func (s *animatedSource) loadAPNG() error {
	f, err := os.Open(s.cfg.path)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := apng.DecodeAll(f)
	if err != nil {
		return fmt.Errorf("decode apng: %w", err)
	}
	if len(a.Frames) == 0 {
		return fmt.Errorf("apng has no frames")
	}

	first := a.Frames[0].Image.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, first.Dx(), first.Dy()))

	for i, frame := range a.Frames {
		if i >= maxAnimatedFrames {
			log.Warnf("%s: truncating animation at %d frames", s.cfg.path, maxAnimatedFrames)
			break
		}

		offset := image.Pt(frame.XOffset, frame.YOffset)
		rect := frame.Image.Bounds().Add(offset)
		op := draw.Over
		if frame.BlendOp == apng.BLEND_OP_SOURCE {
			op = draw.Src
		}
		draw.Draw(canvas, rect, frame.Image, frame.Image.Bounds().Min, op)

		snapshot := image.NewRGBA(canvas.Bounds())
		copy(snapshot.Pix, canvas.Pix)

		den := frame.DelayDenominator
		if den == 0 {
			den = 100
		}
		delay := time.Duration(float64(frame.DelayNumerator) / float64(den) * float64(time.Second))
		s.frames = append(s.frames, animatedFrame{image: snapshot, delay: s.clampDelay(delay)})

		if frame.DisposeOp != apng.DISPOSE_OP_NONE {
			draw.Draw(canvas, rect, image.Transparent, image.Point{}, draw.Src)
		}
	}
	return nil
}

func (s *animatedSource) loadStill() error {
	img, err := decode.File(s.cfg.path)
	if err != nil {
		return err
	}
	log.Warnf("%s: animation not supported by decoder, showing first frame", s.cfg.path)
	s.frames = append(s.frames, animatedFrame{image: img, delay: Forever})
	return nil
}

// clampDelay applies the 10 ms floor and, when configured, the fps limit.
func (s *animatedSource) clampDelay(delay time.Duration) time.Duration {
	if delay < minFrameDelay {
		delay = minFrameDelay
	}
	if s.cfg.fpsLimit > 0 {
		floor := time.Second / time.Duration(s.cfg.fpsLimit)
		if delay < floor {
			delay = floor
		}
	}
	return delay
}

func (s *animatedSource) NextFrame() (Frame, error) {
	if !s.prepared {
		return Frame{}, ErrNotReady
	}
	if s.finished {
		return Frame{}, ErrEndOfStream
	}

	frame := s.frames[s.cursor]
	s.advance()
	return Frame{Image: frame.image, Timestamp: time.Now()}, nil
}

func (s *animatedSource) advance() {
	if len(s.frames) <= 1 {
		return
	}

	if s.cursor == len(s.frames)-1 {
		s.loops++
		if s.cfg.loopCount > 0 && s.loops >= s.cfg.loopCount {
			s.finished = true
			return
		}
		s.cursor = 0
		return
	}
	s.cursor++
}

func (s *animatedSource) FrameDuration() time.Duration {
	if !s.prepared || s.finished || len(s.frames) <= 1 {
		return Forever
	}
	return s.frames[s.cursor].delay
}

func (s *animatedSource) IsAnimated() bool {
	return len(s.frames) > 1 && !s.finished
}

func (s *animatedSource) Release() {
	s.frames = nil
	s.cursor = 0
	s.loops = 0
	s.finished = false
	s.prepared = false
}

func (s *animatedSource) Description() string {
	return fmt.Sprintf("animated %s: %s (%d frames)",
		strings.TrimPrefix(filepath.Ext(s.cfg.path), "."), s.cfg.path, len(s.frames))
}
