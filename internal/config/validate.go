package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// MaxShaderBytes bounds custom WGSL source files.
const MaxShaderBytes = 64 * 1024

const (
	minPlaybackSpeed = 0.1
	maxPlaybackSpeed = 10.0
	minShaderFPS     = 1
	maxShaderFPS     = 240
)

// Normalize validates an entry, clamps what can be clamped, and returns a
// safe copy. Entries it rejects are dropped from the diff entirely.
func Normalize(entry Entry) (Entry, error) {
	if entry.Output == "" {
		entry.Output = "all"
	}

	switch entry.ScalingMode {
	case ScalingModeZoom, ScalingModeFit, ScalingModeStretch:
	case "":
		entry.ScalingMode = ScalingModeZoom
	default:
		return entry, fmt.Errorf("unknown scaling_mode %q", entry.ScalingMode)
	}

	switch entry.FilterMethod {
	case FilterLanczos, FilterLinear:
	case "":
		entry.FilterMethod = FilterLanczos
	default:
		return entry, fmt.Errorf("unknown filter_method %q", entry.FilterMethod)
	}

	switch entry.SamplingMethod {
	case SamplingAlphanumeric, SamplingRandom:
	case "":
		entry.SamplingMethod = SamplingAlphanumeric
	default:
		return entry, fmt.Errorf("unknown sampling_method %q", entry.SamplingMethod)
	}

	if math.IsNaN(entry.RotationFrequency) || math.IsInf(entry.RotationFrequency, 0) || entry.RotationFrequency < 0 {
		return entry, fmt.Errorf("rotation_frequency must be finite and non-negative")
	}

	for _, c := range [][3]float64{entry.FitColor, entry.FallbackColor} {
		for _, v := range c {
			if v < 0 || v > 1 {
				return entry, fmt.Errorf("color component %v out of [0,1]", v)
			}
		}
	}

	source, err := normalizeSource(entry.Source)
	if err != nil {
		return entry, err
	}
	entry.Source = source

	return entry, nil
}

func normalizeSource(s Source) (Source, error) {
	switch s.Type {
	case SourcePath:
		if s.Path == "" {
			return s, fmt.Errorf("path source requires a path")
		}
		s.Path = CanonicalPath(s.Path)

	case SourceColor:
		for _, v := range s.Color {
			if v < 0 || v > 1 {
				return s, fmt.Errorf("color component %v out of [0,1]", v)
			}
		}

	case SourceGradient:
		if len(s.Colors) < 2 {
			return s, fmt.Errorf("gradient requires at least two color stops")
		}
		for _, stop := range s.Colors {
			for _, v := range stop {
				if v < 0 || v > 1 {
					return s, fmt.Errorf("gradient stop component %v out of [0,1]", v)
				}
			}
		}

	case SourceAnimated:
		if s.Path == "" {
			return s, fmt.Errorf("animated source requires a path")
		}
		s.Path = CanonicalPath(s.Path)
		if s.FPSLimit < 0 {
			return s, fmt.Errorf("fps_limit must be non-negative")
		}
		if s.LoopCount < 0 {
			return s, fmt.Errorf("loop_count must be non-negative")
		}

	case SourceVideo:
		if s.Path == "" {
			return s, fmt.Errorf("video source requires a path")
		}
		s.Path = CanonicalPath(s.Path)
		if s.PlaybackSpeed == 0 {
			s.PlaybackSpeed = 1.0
		}
		s.PlaybackSpeed = min(max(s.PlaybackSpeed, minPlaybackSpeed), maxPlaybackSpeed)

	case SourceShader:
		if err := validateShader(&s); err != nil {
			return s, err
		}

	default:
		return s, fmt.Errorf("unknown source type %q", s.Type)
	}

	return s, nil
}

func validateShader(s *Source) error {
	hasPreset := s.Preset != ""
	hasPath := s.Path != ""
	if hasPreset == hasPath {
		return fmt.Errorf("shader requires exactly one of preset or path")
	}

	if hasPreset {
		switch s.Preset {
		case PresetPlasma, PresetWaves, PresetGradient:
		default:
			return fmt.Errorf("unknown shader preset %q", s.Preset)
		}
	}

	if hasPath {
		s.Path = CanonicalPath(s.Path)
		if strings.ToLower(filepath.Ext(s.Path)) != ".wgsl" {
			return fmt.Errorf("shader file %q must have a .wgsl extension", s.Path)
		}
		info, err := os.Stat(s.Path)
		if err != nil {
			return fmt.Errorf("shader file: %w", err)
		}
		if info.Size() > MaxShaderBytes {
			return fmt.Errorf("shader file %q exceeds %d bytes", s.Path, MaxShaderBytes)
		}
	}

	if s.FPSLimit == 0 {
		s.FPSLimit = 30
	}
	s.FPSLimit = min(max(s.FPSLimit, minShaderFPS), maxShaderFPS)

	return nil
}
