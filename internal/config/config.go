package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ScalingMode selects how a source image is mapped onto an output.
type ScalingMode string

const (
	ScalingModeZoom    ScalingMode = "zoom"
	ScalingModeFit     ScalingMode = "fit"
	ScalingModeStretch ScalingMode = "stretch"
)

// FilterMethod selects the resampling kernel used when scaling.
type FilterMethod string

const (
	FilterLanczos FilterMethod = "lanczos"
	FilterLinear  FilterMethod = "linear"
)

// SamplingMethod orders a slideshow queue.
type SamplingMethod string

const (
	SamplingAlphanumeric SamplingMethod = "alphanumeric"
	SamplingRandom       SamplingMethod = "random"
)

// SourceType tags the source descriptor variant.
type SourceType string

const (
	SourcePath     SourceType = "path"
	SourceColor    SourceType = "color"
	SourceGradient SourceType = "gradient"
	SourceAnimated SourceType = "animated"
	SourceVideo    SourceType = "video"
	SourceShader   SourceType = "shader"
)

// ShaderPreset names a built-in WGSL shader.
type ShaderPreset string

const (
	PresetPlasma   ShaderPreset = "plasma"
	PresetWaves    ShaderPreset = "waves"
	PresetGradient ShaderPreset = "gradient"
)

// Source is the tagged descriptor for a wallpaper pixel producer. Only the
// fields relevant to Type are meaningful; the rest stay zero.
type Source struct {
	Type SourceType `mapstructure:"type" json:"type"`

	// path / animated / video / shader custom source
	Path string `mapstructure:"path" json:"path,omitempty"`

	// color
	Color [3]float64 `mapstructure:"color" json:"color,omitempty"`

	// gradient
	Colors [][3]float64 `mapstructure:"colors" json:"colors,omitempty"`
	Radius float64      `mapstructure:"radius" json:"radius,omitempty"`

	// animated / shader
	FPSLimit int `mapstructure:"fps_limit" json:"fps_limit,omitempty"`
	// animated; 0 means loop forever
	LoopCount int `mapstructure:"loop_count" json:"loop_count,omitempty"`

	// video
	LoopPlayback  bool    `mapstructure:"loop_playback" json:"loop_playback,omitempty"`
	PlaybackSpeed float64 `mapstructure:"playback_speed" json:"playback_speed,omitempty"`
	HWAccel       bool    `mapstructure:"hw_accel" json:"hw_accel,omitempty"`

	// shader
	Preset ShaderPreset `mapstructure:"preset" json:"preset,omitempty"`
}

// Equal reports whether two source descriptors are identical. Wallpapers use
// this to decide whether a frame source must be rebuilt on config change.
func (s Source) Equal(other Source) bool {
	if s.Type != other.Type || s.Path != other.Path || s.Color != other.Color ||
		s.Radius != other.Radius || s.FPSLimit != other.FPSLimit ||
		s.LoopCount != other.LoopCount || s.LoopPlayback != other.LoopPlayback ||
		s.PlaybackSpeed != other.PlaybackSpeed || s.HWAccel != other.HWAccel ||
		s.Preset != other.Preset || len(s.Colors) != len(other.Colors) {
		return false
	}
	for i := range s.Colors {
		if s.Colors[i] != other.Colors[i] {
			return false
		}
	}
	return true
}

// Entry is one validated wallpaper configuration record.
type Entry struct {
	Output            string         `mapstructure:"output" json:"output"`
	Source            Source         `mapstructure:"source" json:"source"`
	ScalingMode       ScalingMode    `mapstructure:"scaling_mode" json:"scaling_mode"`
	FitColor          [3]float64     `mapstructure:"fit_color" json:"fit_color"`
	RotationFrequency float64        `mapstructure:"rotation_frequency" json:"rotation_frequency"`
	FilterMethod      FilterMethod   `mapstructure:"filter_method" json:"filter_method"`
	SamplingMethod    SamplingMethod `mapstructure:"sampling_method" json:"sampling_method"`
	FallbackColor     [3]float64     `mapstructure:"fallback_color" json:"fallback_color"`
}

// Config is the full resolved daemon configuration.
type Config struct {
	Wallpapers []Entry `mapstructure:"wallpaper" json:"wallpaper"`

	CacheMaxEntries int `mapstructure:"cache_max_entries" json:"cache_max_entries"`
	CacheMaxBytes   int `mapstructure:"cache_max_bytes" json:"cache_max_bytes"`
}

// SetDefaults installs defaults on the shared viper instance. Called from
// cobra's OnInitialize before ReadInConfig.
func SetDefaults() {
	viper.SetDefault("cache_max_entries", 50)
	viper.SetDefault("cache_max_bytes", 512*1024*1024)
	viper.SetDefault("debug", false)
}

// Load unmarshals and validates the wallpaper entries from viper. Invalid
// entries are dropped; their errors are returned alongside the good config so
// callers can log them without losing the rest.
func Load() (Config, []error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, []error{fmt.Errorf("unmarshal config: %w", err)}
	}

	var errs []error
	valid := cfg.Wallpapers[:0]
	for _, entry := range cfg.Wallpapers {
		normalized, err := Normalize(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry for output %q: %w", entry.Output, err))
			continue
		}
		valid = append(valid, normalized)
	}
	cfg.Wallpapers = valid
	return cfg, errs
}

// CanonicalPath expands ~ and resolves symlinks where possible.
func CanonicalPath(path string) string {
	if path == "" {
		return ""
	}

	if path == "~" {
		path = os.Getenv("HOME")
	} else if strings.HasPrefix(path, "~/") {
		path = strings.Replace(path, "~", os.Getenv("HOME"), 1)
	}

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}
