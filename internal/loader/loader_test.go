package loader

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func collectResult(t *testing.T, l *Loader) Result {
	t.Helper()
	select {
	case res := <-l.Results():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for loader result")
		return Result{}
	}
}

func TestScanDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"z.png", "a.jpg", "notes.txt", "b.webp"} {
		if err := afero.WriteFile(fs, "/walls/"+name, []byte{}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	l := New(fs)
	defer l.Close()

	l.ScanDirectory("DP-1", "/walls", false)
	res := collectResult(t, l)

	if res.Output != "DP-1" {
		t.Errorf("expected output tag DP-1, got %q", res.Output)
	}
	if res.Err != nil {
		t.Fatal(res.Err)
	}

	want := []string{"/walls/a.jpg", "/walls/b.webp", "/walls/z.png"}
	if len(res.Paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, res.Paths)
	}
	for i := range want {
		if res.Paths[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], res.Paths[i])
		}
	}
}

func TestScanSkipsSubdirectoriesUnlessRecursive(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/walls/top.png", []byte{}, 0o644)
	afero.WriteFile(fs, "/walls/sub/nested.png", []byte{}, 0o644)

	l := New(fs)
	defer l.Close()

	l.ScanDirectory("DP-1", "/walls", false)
	flat := collectResult(t, l)
	if len(flat.Paths) != 1 {
		t.Errorf("non-recursive scan should find 1 image, got %v", flat.Paths)
	}

	l.ScanDirectory("DP-1", "/walls", true)
	deep := collectResult(t, l)
	if len(deep.Paths) != 2 {
		t.Errorf("recursive scan should find 2 images, got %v", deep.Paths)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	l := New(afero.NewMemMapFs())
	defer l.Close()

	l.ScanDirectory("DP-1", "/nope", false)
	res := collectResult(t, l)
	if res.Err == nil {
		t.Error("expected error for missing directory")
	}
	if res.Output != "DP-1" {
		t.Errorf("errors must carry the output tag, got %q", res.Output)
	}
}

func TestDecodeImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bg.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 6, 4))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	l := New(afero.NewOsFs())
	defer l.Close()

	l.DecodeImage("HDMI-1", path)
	res := collectResult(t, l)

	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Image == nil || res.Image.Bounds().Dx() != 6 {
		t.Errorf("expected 6px wide decode, got %v", res.Image)
	}
	if res.Path != path {
		t.Errorf("result must echo the decoded path")
	}
}

func TestDecodeFailurePostsError(t *testing.T) {
	l := New(afero.NewOsFs())
	defer l.Close()

	l.DecodeImage("DP-1", "/nonexistent/bg.png")
	res := collectResult(t, l)
	if res.Err == nil {
		t.Error("expected decode error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := New(afero.NewMemMapFs())
	l.Close()
	l.Close()
}

func TestCommandsProcessedInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/a/1.png", []byte{}, 0o644)
	afero.WriteFile(fs, "/b/2.png", []byte{}, 0o644)

	l := New(fs)
	defer l.Close()

	l.ScanDirectory("first", "/a", false)
	l.ScanDirectory("second", "/b", false)

	if res := collectResult(t, l); res.Output != "first" {
		t.Errorf("expected first result first, got %q", res.Output)
	}
	if res := collectResult(t, l); res.Output != "second" {
		t.Errorf("expected second result second, got %q", res.Output)
	}
}
