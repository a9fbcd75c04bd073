// Package source implements the pixel producers behind every wallpaper:
// static images, solid colors and gradients, animated images, videos, and
// GPU shaders. All variants satisfy the Source contract; callers never care
// which one they hold.
package source

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/driftbg/driftbg/internal/cache"
	"github.com/driftbg/driftbg/internal/config"
)

// Frame is a single produced frame.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

var (
	// ErrNotReady is returned by NextFrame before Prepare has succeeded, and
	// by Prepare on unrecoverable decode or init failure.
	ErrNotReady = errors.New("source not ready")

	// ErrEndOfStream is returned by finite, non-looping animated sources
	// after their last frame.
	ErrEndOfStream = errors.New("end of stream")
)

// Forever is the frame duration reported by sources that never change; the
// scheduler treats it as "do not reschedule".
const Forever = time.Duration(math.MaxInt64)

// Source is the contract every pixel producer satisfies. Implementations are
// owned by exactly one wallpaper and are not safe for concurrent use.
type Source interface {
	// Prepare readies the source for the given output geometry. Idempotent
	// for an unchanged size; releases and rebuilds internal surfaces when the
	// size changes.
	Prepare(width, height int) error

	// NextFrame produces the next frame. Fails with ErrNotReady until
	// Prepare has succeeded.
	NextFrame() (Frame, error)

	// FrameDuration is a lower bound on the interval until NextFrame should
	// be called again.
	FrameDuration() time.Duration

	// IsAnimated reports whether the source ever changes over time.
	IsAnimated() bool

	// Release drops all external resources. Safe to call on every exit path,
	// including repeatedly.
	Release()

	// Description is a short human-readable summary for diagnostics.
	Description() string
}

// New builds the source variant for a descriptor. The cache is shared across
// all wallpapers; only path-backed variants use it.
func New(cfg config.Source, imgCache *cache.Cache) (Source, error) {
	switch cfg.Type {
	case config.SourcePath:
		if isAnimatedPath(cfg.Path) {
			return newAnimated(animatedConfig{path: cfg.Path}), nil
		}
		return newStatic(cfg.Path, imgCache), nil

	case config.SourceColor:
		return newColor(colorConfig{single: &cfg.Color}), nil

	case config.SourceGradient:
		return newColor(colorConfig{stops: cfg.Colors, radius: cfg.Radius}), nil

	case config.SourceAnimated:
		return newAnimated(animatedConfig{
			path:      cfg.Path,
			fpsLimit:  cfg.FPSLimit,
			loopCount: cfg.LoopCount,
		}), nil

	case config.SourceVideo:
		return newVideo(videoConfig{
			path:          cfg.Path,
			loopPlayback:  cfg.LoopPlayback,
			playbackSpeed: cfg.PlaybackSpeed,
			hwAccel:       cfg.HWAccel,
		})

	case config.SourceShader:
		return newShader(shaderConfig{
			preset:     cfg.Preset,
			customPath: cfg.Path,
			fpsLimit:   cfg.FPSLimit,
		})

	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
