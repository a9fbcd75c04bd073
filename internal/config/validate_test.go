package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validEntry() Entry {
	return Entry{
		Output: "DP-1",
		Source: Source{Type: SourceColor, Color: [3]float64{0.5, 0.5, 0.5}},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	entry, err := Normalize(Entry{Source: Source{Type: SourceColor}})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Output != "all" {
		t.Errorf("empty output must default to all, got %q", entry.Output)
	}
	if entry.ScalingMode != ScalingModeZoom {
		t.Errorf("expected zoom default, got %q", entry.ScalingMode)
	}
	if entry.FilterMethod != FilterLanczos {
		t.Errorf("expected lanczos default, got %q", entry.FilterMethod)
	}
	if entry.SamplingMethod != SamplingAlphanumeric {
		t.Errorf("expected alphanumeric default, got %q", entry.SamplingMethod)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"bad scaling mode", func(e *Entry) { e.ScalingMode = "tile" }},
		{"bad filter", func(e *Entry) { e.FilterMethod = "cubic" }},
		{"bad sampling", func(e *Entry) { e.SamplingMethod = "chronological" }},
		{"negative rotation", func(e *Entry) { e.RotationFrequency = -1 }},
		{"nan rotation", func(e *Entry) { e.RotationFrequency = math.NaN() }},
		{"inf rotation", func(e *Entry) { e.RotationFrequency = math.Inf(1) }},
		{"fit color out of range", func(e *Entry) { e.FitColor = [3]float64{1.5, 0, 0} }},
		{"color component negative", func(e *Entry) {
			e.Source = Source{Type: SourceColor, Color: [3]float64{-0.1, 0, 0}}
		}},
		{"gradient one stop", func(e *Entry) {
			e.Source = Source{Type: SourceGradient, Colors: [][3]float64{{0, 0, 0}}}
		}},
		{"path without path", func(e *Entry) { e.Source = Source{Type: SourcePath} }},
		{"unknown source type", func(e *Entry) { e.Source = Source{Type: "hologram"} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := validEntry()
			tc.mutate(&entry)
			if _, err := Normalize(entry); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestVideoSpeedClamped(t *testing.T) {
	entry := validEntry()
	entry.Source = Source{Type: SourceVideo, Path: "/v.mp4", PlaybackSpeed: 50}

	got, err := Normalize(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source.PlaybackSpeed != 10.0 {
		t.Errorf("expected clamp to 10.0, got %v", got.Source.PlaybackSpeed)
	}

	entry.Source.PlaybackSpeed = 0.01
	got, err = Normalize(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source.PlaybackSpeed != 0.1 {
		t.Errorf("expected clamp to 0.1, got %v", got.Source.PlaybackSpeed)
	}

	entry.Source.PlaybackSpeed = 0
	got, err = Normalize(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source.PlaybackSpeed != 1.0 {
		t.Errorf("unset speed must default to 1.0, got %v", got.Source.PlaybackSpeed)
	}
}

func TestShaderPresetPathExclusivity(t *testing.T) {
	entry := validEntry()

	entry.Source = Source{Type: SourceShader}
	if _, err := Normalize(entry); err == nil {
		t.Error("shader with neither preset nor path must be rejected")
	}

	entry.Source = Source{Type: SourceShader, Preset: PresetPlasma, Path: "/s.wgsl"}
	if _, err := Normalize(entry); err == nil {
		t.Error("shader with both preset and path must be rejected")
	}

	entry.Source = Source{Type: SourceShader, Preset: PresetPlasma}
	got, err := Normalize(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source.FPSLimit != 30 {
		t.Errorf("unset shader fps must default to 30, got %d", got.Source.FPSLimit)
	}
}

func TestShaderFPSClamped(t *testing.T) {
	entry := validEntry()
	entry.Source = Source{Type: SourceShader, Preset: PresetWaves, FPSLimit: 1000}

	got, err := Normalize(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source.FPSLimit != 240 {
		t.Errorf("expected clamp to 240, got %d", got.Source.FPSLimit)
	}
}

func TestShaderFileValidation(t *testing.T) {
	dir := t.TempDir()

	notWGSL := filepath.Join(dir, "shader.glsl")
	os.WriteFile(notWGSL, []byte("void main() {}"), 0o644)

	entry := validEntry()
	entry.Source = Source{Type: SourceShader, Path: notWGSL}
	if _, err := Normalize(entry); err == nil {
		t.Error("non-.wgsl shader must be rejected")
	}

	tooBig := filepath.Join(dir, "big.wgsl")
	os.WriteFile(tooBig, []byte(strings.Repeat("x", MaxShaderBytes+1)), 0o644)
	entry.Source = Source{Type: SourceShader, Path: tooBig}
	if _, err := Normalize(entry); err == nil {
		t.Error("oversized shader must be rejected")
	}

	good := filepath.Join(dir, "ok.wgsl")
	os.WriteFile(good, []byte("@fragment fn fs_main() {}"), 0o644)
	entry.Source = Source{Type: SourceShader, Path: good}
	if _, err := Normalize(entry); err != nil {
		t.Errorf("valid shader rejected: %v", err)
	}

	entry.Source = Source{Type: SourceShader, Path: filepath.Join(dir, "missing.wgsl")}
	if _, err := Normalize(entry); err == nil {
		t.Error("missing shader file must be rejected")
	}
}

func TestUnknownShaderPreset(t *testing.T) {
	entry := validEntry()
	entry.Source = Source{Type: SourceShader, Preset: "fire"}
	if _, err := Normalize(entry); err == nil {
		t.Error("unknown preset must be rejected")
	}
}
