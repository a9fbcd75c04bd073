package compose

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/driftbg/driftbg/internal/compositor"
	"github.com/driftbg/driftbg/internal/config"
)

type memBuffer struct {
	data   []byte
	stride int
	format compositor.PixelFormat
	w, h   int
}

func (b *memBuffer) Bytes() []byte                  { return b.data }
func (b *memBuffer) Stride() int                    { return b.stride }
func (b *memBuffer) Format() compositor.PixelFormat { return b.format }
func (b *memBuffer) Size() (int, int)               { return b.w, b.h }

func newMemBuffer(w, h int, format compositor.PixelFormat) *memBuffer {
	return &memBuffer{
		data:   make([]byte, w*h*4),
		stride: w * 4,
		format: format,
		w:      w,
		h:      h,
	}
}

func TestEffectiveSize(t *testing.T) {
	cases := []struct {
		name      string
		w, h      int
		scale     int
		transform compositor.Transform
		wantW     int
		wantH     int
	}{
		{"normal", 1920, 1080, 1, compositor.TransformNormal, 1920, 1080},
		{"rotated 90", 1000, 2000, 1, compositor.Transform90, 2000, 1000},
		{"rotated 270", 1000, 2000, 1, compositor.Transform270, 2000, 1000},
		{"flipped 90", 1000, 2000, 1, compositor.TransformFlipped90, 2000, 1000},
		{"flipped 270", 1000, 2000, 1, compositor.TransformFlipped270, 2000, 1000},
		{"rotated 180 keeps dims", 1000, 2000, 1, compositor.Transform180, 1000, 2000},
		{"flipped keeps dims", 1000, 2000, 1, compositor.TransformFlipped, 1000, 2000},
		{"hidpi", 1920, 1080, 2, compositor.TransformNormal, 3840, 2160},
		{"hidpi rotated", 1920, 1080, 2, compositor.Transform90, 2160, 3840},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := EffectiveSize(tc.w, tc.h, tc.scale, tc.transform)
			if w != tc.wantW || h != tc.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestStrideOverflow(t *testing.T) {
	if _, err := Stride(1 << 40); !errors.Is(err, ErrBufferTooLarge) {
		t.Error("huge width must fail with ErrBufferTooLarge")
	}
	if _, err := Stride(-1); !errors.Is(err, ErrBufferTooLarge) {
		t.Error("negative width must fail")
	}
	if s, err := Stride(1920); err != nil || s != 7680 {
		t.Errorf("expected stride 7680, got %d (%v)", s, err)
	}
}

func TestBufferSizeOverflow(t *testing.T) {
	if _, err := BufferSize(1<<20, 1<<20); !errors.Is(err, ErrBufferTooLarge) {
		t.Error("overflowing size must fail with ErrBufferTooLarge")
	}
}

// checker builds an image whose corners differ so anchoring is observable.
func checker(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{R: 255, A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.Set(x, y, color.NRGBA{G: 255, A: 255})
		}
	}
	return img
}

func TestZoomCoversTarget(t *testing.T) {
	src := checker(100, 50)
	out := Scale(src, 60, 60, config.ScalingModeZoom, config.FilterLanczos, [3]float64{})

	if out.Bounds().Dx() != 60 || out.Bounds().Dy() != 60 {
		t.Fatalf("zoom output must match target exactly, got %v", out.Bounds())
	}
	// Every pixel comes from the source; with a green/red source nothing may
	// be black.
	for _, pt := range []image.Point{{0, 0}, {59, 0}, {0, 59}, {59, 59}, {30, 30}} {
		c := out.NRGBAAt(pt.X, pt.Y)
		if c.R < 100 && c.G < 100 {
			t.Errorf("pixel %v looks letterboxed: %v", pt, c)
		}
	}
}

func TestZoomCenterAnchored(t *testing.T) {
	// Wide source into square target: crop removes both sides equally, so
	// the seam between the halves stays centered.
	src := checker(200, 100)
	out := Scale(src, 100, 100, config.ScalingModeZoom, config.FilterLinear, [3]float64{})

	left := out.NRGBAAt(25, 50)
	right := out.NRGBAAt(75, 50)
	if left.G < 100 {
		t.Errorf("left half should be green, got %v", left)
	}
	if right.R < 100 {
		t.Errorf("right half should be red, got %v", right)
	}
}

func TestFitLetterboxesWithColor(t *testing.T) {
	src := checker(100, 50) // 2:1 into 1:1 leaves bands top and bottom
	bg := [3]float64{0, 0, 1}
	out := Scale(src, 100, 100, config.ScalingModeFit, config.FilterLanczos, bg)

	top := out.NRGBAAt(50, 5)
	bottom := out.NRGBAAt(50, 95)
	for _, c := range []color.NRGBA{top, bottom} {
		if c.B != 255 || c.R != 0 || c.G != 0 {
			t.Errorf("letterbox band must equal fit color, got %v", c)
		}
	}

	center := out.NRGBAAt(50, 50)
	if center.B == 255 && center.R == 0 && center.G == 0 {
		t.Error("center must hold image content, not letterbox color")
	}
}

func TestStretchIgnoresAspect(t *testing.T) {
	src := checker(10, 10)
	out := Scale(src, 50, 200, config.ScalingModeStretch, config.FilterLinear, [3]float64{})
	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 200 {
		t.Errorf("stretch must hit exact target, got %v", out.Bounds())
	}
}

func TestRenderIntoXRGB8888(t *testing.T) {
	img := imaging.New(2, 1, color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 255})
	buf := newMemBuffer(2, 1, compositor.FormatXRGB8888)

	if err := RenderInto(buf, img); err != nil {
		t.Fatal(err)
	}

	// Little-endian XRGB8888 lays out B G R X.
	want := []byte{0x33, 0x22, 0x11, 0xFF}
	for i, b := range want {
		if buf.data[i] != b {
			t.Errorf("byte %d: got %#x, want %#x", i, buf.data[i], b)
		}
	}
}

func TestRenderIntoXRGB2101010(t *testing.T) {
	img := imaging.New(1, 1, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	buf := newMemBuffer(1, 1, compositor.FormatXRGB2101010)

	if err := RenderInto(buf, img); err != nil {
		t.Fatal(err)
	}

	px := uint32(buf.data[0]) | uint32(buf.data[1])<<8 | uint32(buf.data[2])<<16 | uint32(buf.data[3])<<24
	r := (px >> 20) & 0x3FF
	if r != 0x3FF {
		t.Errorf("expected full red channel 0x3FF, got %#x", r)
	}
	if g := (px >> 10) & 0x3FF; g != 0 {
		t.Errorf("expected zero green, got %#x", g)
	}
}

func TestRenderIntoSizeMismatch(t *testing.T) {
	img := imaging.New(3, 3, color.NRGBA{})
	buf := newMemBuffer(2, 2, compositor.FormatXRGB8888)
	if err := RenderInto(buf, img); err == nil {
		t.Error("mismatched dimensions must fail")
	}
}
