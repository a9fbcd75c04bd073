package config

import "testing"

func entryFor(output string, color [3]float64) Entry {
	return Entry{
		Output:         output,
		Source:         Source{Type: SourceColor, Color: color},
		ScalingMode:    ScalingModeZoom,
		FilterMethod:   FilterLanczos,
		SamplingMethod: SamplingAlphanumeric,
	}
}

func TestDiffEmpty(t *testing.T) {
	entries := []Entry{entryFor("DP-1", [3]float64{1, 0, 0})}
	if diff := DiffEntries(entries, entries); !diff.Empty() {
		t.Errorf("identical configs must produce an empty diff: %+v", diff)
	}
}

func TestDiffAdded(t *testing.T) {
	old := []Entry{entryFor("DP-1", [3]float64{1, 0, 0})}
	new := append(old, entryFor("DP-2", [3]float64{0, 1, 0}))

	diff := DiffEntries(old, new)
	if len(diff.Added) != 1 || diff.Added[0].Output != "DP-2" {
		t.Errorf("expected DP-2 added, got %+v", diff)
	}
	if len(diff.Removed) != 0 || len(diff.Updated) != 0 {
		t.Errorf("unexpected removals or updates: %+v", diff)
	}
}

func TestDiffRemoved(t *testing.T) {
	old := []Entry{
		entryFor("DP-1", [3]float64{1, 0, 0}),
		entryFor("DP-2", [3]float64{0, 1, 0}),
	}
	diff := DiffEntries(old, old[:1])
	if len(diff.Removed) != 1 || diff.Removed[0] != "DP-2" {
		t.Errorf("expected DP-2 removed, got %+v", diff)
	}
}

func TestDiffMinimality(t *testing.T) {
	old := []Entry{
		entryFor("DP-1", [3]float64{1, 0, 0}),
		entryFor("DP-2", [3]float64{0, 1, 0}),
		entryFor("all", [3]float64{0, 0, 1}),
	}
	changed := make([]Entry, len(old))
	copy(changed, old)
	changed[1].Source.Color = [3]float64{1, 1, 0}

	diff := DiffEntries(old, changed)
	if len(diff.Updated) != 1 || diff.Updated[0].Output != "DP-2" {
		t.Fatalf("only DP-2 must be updated, got %+v", diff)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Errorf("untouched entries must not appear in the diff: %+v", diff)
	}
}

func TestDiffDetectsParameterChange(t *testing.T) {
	old := []Entry{entryFor("DP-1", [3]float64{1, 0, 0})}
	changed := []Entry{entryFor("DP-1", [3]float64{1, 0, 0})}
	changed[0].RotationFrequency = 60

	diff := DiffEntries(old, changed)
	if len(diff.Updated) != 1 {
		t.Errorf("rotation change must surface as update, got %+v", diff)
	}
}

func TestSourceEqual(t *testing.T) {
	a := Source{Type: SourceGradient, Colors: [][3]float64{{0, 0, 0}, {1, 1, 1}}, Radius: 90}
	b := Source{Type: SourceGradient, Colors: [][3]float64{{0, 0, 0}, {1, 1, 1}}, Radius: 90}
	if !a.Equal(b) {
		t.Error("identical gradients must be equal")
	}

	b.Colors = [][3]float64{{0, 0, 0}, {1, 0, 1}}
	if a.Equal(b) {
		t.Error("different stops must not be equal")
	}

	c := Source{Type: SourceVideo, Path: "/v.mp4", PlaybackSpeed: 1}
	d := c
	d.PlaybackSpeed = 2
	if c.Equal(d) {
		t.Error("different playback speed must not be equal")
	}
}
