package source

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestGIF writes a small animation with the given per-frame delays in
// 100ths of a second.
func writeTestGIF(t *testing.T, delays []int) string {
	t.Helper()

	g := &gif.GIF{Config: image.Config{Width: 4, Height: 4}}
	palette := color.Palette{color.Black, color.White}
	for i, delay := range delays {
		frame := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
		for p := range frame.Pix {
			frame.Pix[p] = uint8(i % 2)
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, delay)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}

	path := filepath.Join(t.TempDir(), "anim.gif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := gif.EncodeAll(f, g); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnimatedPlayback(t *testing.T) {
	path := writeTestGIF(t, []int{5, 5, 5})
	s := newAnimated(animatedConfig{path: path})

	if _, err := s.NextFrame(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady before prepare, got %v", err)
	}

	if err := s.Prepare(4, 4); err != nil {
		t.Fatal(err)
	}
	if !s.IsAnimated() {
		t.Error("multi-frame gif must report animated")
	}

	// The cursor wraps; frame 0, 1, 2, then 0 again.
	for i := 0; i < 4; i++ {
		if _, err := s.NextFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
}

func TestAnimatedDelayFloor(t *testing.T) {
	// 5/100ths = 50ms declared, but also test a zero-delay frame.
	path := writeTestGIF(t, []int{0, 5})
	s := newAnimated(animatedConfig{path: path})
	if err := s.Prepare(4, 4); err != nil {
		t.Fatal(err)
	}

	if d := s.FrameDuration(); d < minFrameDelay {
		t.Errorf("delay %v below the 10ms floor", d)
	}
}

func TestAnimatedFPSLimit(t *testing.T) {
	path := writeTestGIF(t, []int{1, 1}) // 10ms declared
	s := newAnimated(animatedConfig{path: path, fpsLimit: 20})
	if err := s.Prepare(4, 4); err != nil {
		t.Fatal(err)
	}

	if d := s.FrameDuration(); d < 50*time.Millisecond {
		t.Errorf("fps limit 20 requires >= 50ms, got %v", d)
	}
}

func TestAnimatedLoopCountExhaustion(t *testing.T) {
	path := writeTestGIF(t, []int{1, 1})
	s := newAnimated(animatedConfig{path: path, loopCount: 2})
	if err := s.Prepare(4, 4); err != nil {
		t.Fatal(err)
	}

	// Two frames per loop, two loops = four successful frames.
	for i := 0; i < 4; i++ {
		if _, err := s.NextFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	if _, err := s.NextFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected ErrEndOfStream after loops exhausted, got %v", err)
	}
	if s.IsAnimated() {
		t.Error("finished animation must not report animated")
	}
}

func TestAnimatedInfiniteLoopNeverEnds(t *testing.T) {
	path := writeTestGIF(t, []int{1, 1})
	s := newAnimated(animatedConfig{path: path})
	if err := s.Prepare(4, 4); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		if _, err := s.NextFrame(); err != nil {
			t.Fatalf("infinite loop ended at frame %d: %v", i, err)
		}
	}
}

func TestAnimatedPrepareMissingFile(t *testing.T) {
	s := newAnimated(animatedConfig{path: "/nonexistent/anim.gif"})
	if err := s.Prepare(4, 4); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestIsAnimatedPath(t *testing.T) {
	cases := map[string]bool{
		"a.gif":  true,
		"a.GIF":  true,
		"a.apng": true,
		"a.webp": true,
		"a.png":  false,
		"a.jpg":  false,
		"a":      false,
	}
	for path, want := range cases {
		if got := isAnimatedPath(path); got != want {
			t.Errorf("isAnimatedPath(%q) = %v, want %v", path, got, want)
		}
	}
}
