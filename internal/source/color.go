package source

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"
)

type colorConfig struct {
	single *[3]float64
	stops  [][3]float64
	radius float64
}

// colorSource rasterizes a solid color or a multi-stop gradient at the target
// size. The image is regenerated only when the size changes; the trig
// coefficients for angled gradients are computed once per descriptor.
type colorSource struct {
	cfg       colorConfig
	generated *image.RGBA
	width     int
	height    int

	// gradient rotation coefficients, fixed for the descriptor's radius
	cosA float64
	sinA float64
}

func newColor(cfg colorConfig) *colorSource {
	s := &colorSource{cfg: cfg}
	if cfg.single == nil {
		angle := cfg.radius * math.Pi / 180
		s.cosA = math.Cos(angle)
		s.sinA = math.Sin(angle)
	}
	return s
}

func (s *colorSource) Prepare(width, height int) error {
	if s.generated != nil && s.width == width && s.height == height {
		return nil
	}

	s.width, s.height = width, height
	if s.cfg.single != nil {
		s.generated = solid(*s.cfg.single, width, height)
	} else {
		s.generated = s.gradient(width, height)
	}
	return nil
}

func (s *colorSource) NextFrame() (Frame, error) {
	if s.generated == nil {
		return Frame{}, ErrNotReady
	}
	return Frame{Image: s.generated, Timestamp: time.Now()}, nil
}

func (s *colorSource) FrameDuration() time.Duration { return Forever }

func (s *colorSource) IsAnimated() bool { return false }

func (s *colorSource) Release() {
	s.generated = nil
	s.width, s.height = 0, 0
}

func (s *colorSource) Description() string {
	if s.cfg.single != nil {
		c := *s.cfg.single
		return fmt.Sprintf("solid color: rgb(%.2f, %.2f, %.2f)", c[0], c[1], c[2])
	}
	return fmt.Sprintf("gradient: %d stops at %v degrees", len(s.cfg.stops), s.cfg.radius)
}

func toRGBA8(c [3]float64) color.RGBA {
	clamp := func(v float64) uint8 {
		return uint8(math.Round(min(max(v, 0), 1) * 255))
	}
	return color.RGBA{R: clamp(c[0]), G: clamp(c[1]), B: clamp(c[2]), A: 255}
}

func solid(c [3]float64, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	px := toRGBA8(c)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width*4; x += 4 {
			row[x] = px.R
			row[x+1] = px.G
			row[x+2] = px.B
			row[x+3] = 255
		}
	}
	return img
}

// gradientAt interpolates the gradient stops at t in [0,1].
func gradientAt(stops [][3]float64, t float64) [3]float64 {
	if len(stops) == 0 {
		return [3]float64{}
	}
	if len(stops) == 1 || t <= 0 {
		return stops[0]
	}
	if t >= 1 {
		return stops[len(stops)-1]
	}

	scaled := t * float64(len(stops)-1)
	idx := int(scaled)
	frac := scaled - float64(idx)

	a, b := stops[idx], stops[idx+1]
	return [3]float64{
		a[0] + (b[0]-a[0])*frac,
		a[1] + (b[1]-a[1])*frac,
		a[2] + (b[2]-a[2])*frac,
	}
}

func (s *colorSource) gradient(width, height int) *image.RGBA {
	w := float64(width)
	h := float64(height)

	// Axis-aligned angles use a direct ramp; anything else rotates the
	// coordinate space by the cached coefficients.
	var position func(x, y int) float64
	switch int(s.cfg.radius) {
	case 0:
		position = func(_, y int) float64 { return 1 - float64(y)/h }
	case 90:
		position = func(x, _ int) float64 { return float64(x) / w }
	case 180:
		position = func(_, y int) float64 { return float64(y) / h }
	case 270:
		position = func(x, _ int) float64 { return 1 - float64(x)/w }
	default:
		cosA, sinA := s.cosA, s.sinA
		// Project onto the rotated axis and remap to [0,1].
		span := w*math.Abs(sinA) + h*math.Abs(cosA)
		position = func(x, y int) float64 {
			px := float64(x) - w/2
			py := float64(y) - h/2
			return (px*sinA-py*cosA)/span + 0.5
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := toRGBA8(gradientAt(s.cfg.stops, position(x, y)))
			off := y*img.Stride + x*4
			img.Pix[off] = px.R
			img.Pix[off+1] = px.G
			img.Pix[off+2] = px.B
			img.Pix[off+3] = 255
		}
	}
	return img
}
