// Package decode turns wallpaper files into images. Format selection is by
// content sniffing through the registered decoders, falling back to the file
// extension for formats whose decoder is not sniffable (JPEG XL).
package decode

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// Registered for content sniffing via image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gen2brain/jpegxl"
)

// imageExtensions lists the file suffixes considered wallpaper material when
// scanning directories.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".jxl":  true,
}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// File decodes the image at path.
func File(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}

	// Sniffing failed; JPEG XL goes through its own decoder.
	if strings.EqualFold(filepath.Ext(path), ".jxl") {
		img, jxlErr := jpegxl.Decode(bytes.NewReader(data))
		if jxlErr != nil {
			return nil, fmt.Errorf("decode jxl %s: %w", path, jxlErr)
		}
		return img, nil
	}

	return nil, fmt.Errorf("decode %s: %w", path, err)
}

// ModTime returns the file's modification time in unix nanoseconds, or zero
// when it cannot be read. Used as part of the cache key.
func ModTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
