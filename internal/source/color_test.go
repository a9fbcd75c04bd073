package source

import (
	"image/color"
	"testing"
)

func TestSolidColorSource(t *testing.T) {
	red := [3]float64{1, 0, 0}
	s := newColor(colorConfig{single: &red})

	if s.IsAnimated() {
		t.Error("color source must not be animated")
	}
	if _, err := s.NextFrame(); err == nil {
		t.Error("NextFrame before Prepare must fail")
	}

	if err := s.Prepare(100, 50); err != nil {
		t.Fatal(err)
	}
	frame, err := s.NextFrame()
	if err != nil {
		t.Fatal(err)
	}

	b := frame.Image.Bounds()
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50, got %dx%d", b.Dx(), b.Dy())
	}

	r, g, bl, _ := frame.Image.At(50, 25).RGBA()
	if r>>8 != 255 || g>>8 != 0 || bl>>8 != 0 {
		t.Errorf("expected pure red, got (%d, %d, %d)", r>>8, g>>8, bl>>8)
	}
	if s.FrameDuration() != Forever {
		t.Error("color source duration must be Forever")
	}
}

func TestPrepareRegeneratesOnSizeChange(t *testing.T) {
	blue := [3]float64{0, 0, 1}
	s := newColor(colorConfig{single: &blue})

	if err := s.Prepare(10, 10); err != nil {
		t.Fatal(err)
	}
	first, _ := s.NextFrame()

	if err := s.Prepare(10, 10); err != nil {
		t.Fatal(err)
	}
	same, _ := s.NextFrame()
	if first.Image != same.Image {
		t.Error("unchanged size must not regenerate")
	}

	if err := s.Prepare(20, 20); err != nil {
		t.Fatal(err)
	}
	resized, _ := s.NextFrame()
	if resized.Image.Bounds().Dx() != 20 {
		t.Errorf("expected regenerated 20px image, got %d", resized.Image.Bounds().Dx())
	}
}

func TestGradientEndpoints(t *testing.T) {
	s := newColor(colorConfig{
		stops:  [][3]float64{{0, 0, 0}, {1, 1, 1}},
		radius: 90, // left-to-right ramp
	})
	if err := s.Prepare(100, 10); err != nil {
		t.Fatal(err)
	}
	frame, err := s.NextFrame()
	if err != nil {
		t.Fatal(err)
	}

	left := color.RGBAModel.Convert(frame.Image.At(0, 5)).(color.RGBA)
	right := color.RGBAModel.Convert(frame.Image.At(99, 5)).(color.RGBA)

	if left.R > 10 {
		t.Errorf("left edge should be near black, got %v", left)
	}
	if right.R < 245 {
		t.Errorf("right edge should be near white, got %v", right)
	}
}

func TestGradientAtInterpolation(t *testing.T) {
	stops := [][3]float64{{0, 0, 0}, {1, 1, 1}}

	mid := gradientAt(stops, 0.5)
	for _, c := range mid {
		if c < 0.45 || c > 0.55 {
			t.Errorf("midpoint should be near 0.5, got %v", mid)
		}
	}

	if gradientAt(stops, -1) != stops[0] {
		t.Error("t below range must clamp to first stop")
	}
	if gradientAt(stops, 2) != stops[1] {
		t.Error("t above range must clamp to last stop")
	}
}

func TestRelease(t *testing.T) {
	green := [3]float64{0, 1, 0}
	s := newColor(colorConfig{single: &green})
	if err := s.Prepare(10, 10); err != nil {
		t.Fatal(err)
	}

	s.Release()
	if _, err := s.NextFrame(); err == nil {
		t.Error("NextFrame after Release must fail until re-prepared")
	}

	// Release must be safe to call again.
	s.Release()
}
