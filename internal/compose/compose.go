// Package compose scales source frames to output geometry and writes them
// into shared-memory buffers in the output's pixel format.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/driftbg/driftbg/internal/compositor"
	"github.com/driftbg/driftbg/internal/config"
)

// ErrBufferTooLarge is returned when stride or size arithmetic would
// overflow. The redraw fails; nothing panics.
var ErrBufferTooLarge = errors.New("buffer dimensions too large")

// EffectiveSize computes the pixel dimensions the scaler must target for an
// output: advertised size, swapped under sideways transforms, multiplied by
// the integer scale factor.
func EffectiveSize(width, height, scale int, transform compositor.Transform) (int, int) {
	if transform.SwapsDimensions() {
		width, height = height, width
	}
	if scale > 1 {
		width *= scale
		height *= scale
	}
	return width, height
}

// Stride returns the checked row byte length for a buffer width.
func Stride(width int) (int, error) {
	if width <= 0 || width > math.MaxInt32/compositor.BytesPerPixel {
		return 0, fmt.Errorf("%w: width %d", ErrBufferTooLarge, width)
	}
	return width * compositor.BytesPerPixel, nil
}

// BufferSize returns the checked total byte length for a buffer.
func BufferSize(width, height int) (int, error) {
	stride, err := Stride(width)
	if err != nil {
		return 0, err
	}
	if height <= 0 || height > math.MaxInt32/stride {
		return 0, fmt.Errorf("%w: %dx%d", ErrBufferTooLarge, width, height)
	}
	return stride * height, nil
}

func filter(method config.FilterMethod) imaging.ResampleFilter {
	if method == config.FilterLinear {
		return imaging.Linear
	}
	return imaging.Lanczos
}

// Scale fits a source image to the target dimensions per the scaling mode.
func Scale(img image.Image, width, height int, mode config.ScalingMode,
	method config.FilterMethod, fitColor [3]float64) *image.NRGBA {

	switch mode {
	case config.ScalingModeStretch:
		return imaging.Resize(img, width, height, filter(method))

	case config.ScalingModeFit:
		bg := imaging.New(width, height, color.NRGBA{
			R: uint8(math.Round(fitColor[0] * 255)),
			G: uint8(math.Round(fitColor[1] * 255)),
			B: uint8(math.Round(fitColor[2] * 255)),
			A: 255,
		})
		fitted := imaging.Fit(img, width, height, filter(method))
		return imaging.PasteCenter(bg, fitted)

	default: // zoom
		return imaging.Fill(img, width, height, imaging.Center, filter(method))
	}
}

// RenderInto converts img into the buffer's pixel format. The image must
// match the buffer dimensions exactly.
func RenderInto(buf compositor.Buffer, img *image.NRGBA) error {
	width, height := buf.Size()
	if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
		return fmt.Errorf("image %dx%d does not match buffer %dx%d",
			img.Bounds().Dx(), img.Bounds().Dy(), width, height)
	}
	if _, err := BufferSize(width, height); err != nil {
		return err
	}

	dst := buf.Bytes()
	stride := buf.Stride()

	switch buf.Format() {
	case compositor.FormatXRGB2101010:
		for y := 0; y < height; y++ {
			src := img.Pix[y*img.Stride:]
			row := dst[y*stride:]
			for x := 0; x < width; x++ {
				r := uint32(src[x*4])
				g := uint32(src[x*4+1])
				b := uint32(src[x*4+2])
				// 8-bit source widened to 10 bits per channel.
				px := (r<<2|r>>6)<<20 | (g<<2|g>>6)<<10 | (b<<2 | b>>6)
				row[x*4] = byte(px)
				row[x*4+1] = byte(px >> 8)
				row[x*4+2] = byte(px >> 16)
				row[x*4+3] = byte(px >> 24)
			}
		}

	default: // XRGB8888, little endian: B G R X
		for y := 0; y < height; y++ {
			src := img.Pix[y*img.Stride:]
			row := dst[y*stride:]
			for x := 0; x < width; x++ {
				row[x*4] = src[x*4+2]
				row[x*4+1] = src[x*4+1]
				row[x*4+2] = src[x*4]
				row[x*4+3] = 0xFF
			}
		}
	}

	return nil
}
