package config

import (
	"path/filepath"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := LoadState(path)
	if err := s.SetCurrent("DP-1", "/bg/c.png"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrent("all", "/bg/x.png"); err != nil {
		t.Fatal(err)
	}

	reloaded := LoadState(path)
	if got := reloaded.Current("DP-1"); got != "/bg/c.png" {
		t.Errorf("expected /bg/c.png, got %q", got)
	}
	if got := reloaded.Current("all"); got != "/bg/x.png" {
		t.Errorf("expected /bg/x.png, got %q", got)
	}
}

func TestStateMissingFile(t *testing.T) {
	s := LoadState(filepath.Join(t.TempDir(), "missing", "state.json"))
	if got := s.Current("DP-1"); got != "" {
		t.Errorf("missing state must be empty, got %q", got)
	}
}

func TestStateForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := LoadState(path)
	if err := s.SetCurrent("DP-1", "/bg/a.png"); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget("DP-1"); err != nil {
		t.Fatal(err)
	}

	if got := LoadState(path).Current("DP-1"); got != "" {
		t.Errorf("forgotten cursor must be gone, got %q", got)
	}
}
