// Package loader offloads blocking filesystem walks and image decodes from
// the event thread. A single worker consumes commands and posts results back
// on a channel the orchestrator drains; results are tagged with the output
// they were requested for so stale completions can be discarded.
package loader

import (
	"image"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"

	"github.com/driftbg/driftbg/internal/decode"
)

type commandKind int

const (
	cmdScanDirectory commandKind = iota
	cmdDecodeImage
	cmdShutdown
)

type command struct {
	kind      commandKind
	output    string
	path      string
	recursive bool
}

// Result is one completion posted back to the orchestrator.
type Result struct {
	// Output tags which wallpaper requested the work. Wallpapers whose
	// source changed since the request simply ignore mismatched tags.
	Output string

	// Exactly one of the following is populated.
	Paths []string    // directory scan completion
	Image image.Image // decode completion
	Err   error       // load failure

	// Path is the scanned directory or decoded file.
	Path string
}

// Loader runs the background worker. Create one per process with New and
// shut it down with Close.
type Loader struct {
	fs       afero.Fs
	commands chan command
	results  chan Result
	done     chan struct{}
}

// New starts the worker. The filesystem is injectable for tests; production
// passes afero.NewOsFs().
func New(filesystem afero.Fs) *Loader {
	l := &Loader{
		fs:       filesystem,
		commands: make(chan command, 16),
		results:  make(chan Result, 16),
		done:     make(chan struct{}),
	}
	go l.worker()
	log.Debug("async loader started")
	return l
}

// Results is the completion channel the orchestrator selects on. It is
// closed when the loader shuts down.
func (l *Loader) Results() <-chan Result {
	return l.results
}

// ScanDirectory requests a walk of path for image files.
func (l *Loader) ScanDirectory(output, path string, recursive bool) {
	l.commands <- command{kind: cmdScanDirectory, output: output, path: path, recursive: recursive}
}

// DecodeImage requests a decode of the image at path.
func (l *Loader) DecodeImage(output, path string) {
	l.commands <- command{kind: cmdDecodeImage, output: output, path: path}
}

// Close stops the worker and waits for it to exit.
func (l *Loader) Close() {
	select {
	case <-l.done:
		return
	default:
	}
	l.commands <- command{kind: cmdShutdown}
	<-l.done
}

func (l *Loader) worker() {
	defer close(l.done)
	defer close(l.results)

	for cmd := range l.commands {
		if cmd.kind == cmdShutdown {
			log.Debug("async loader shutting down")
			return
		}

		// A panicking decoder must not take the worker down with it.
		var caught panics.Catcher
		caught.Try(func() { l.handle(cmd) })
		if recovered := caught.Recovered(); recovered != nil {
			log.Errorf("loader worker recovered from panic: %v", recovered)
			l.results <- Result{
				Output: cmd.output,
				Path:   cmd.path,
				Err:    recovered.AsError(),
			}
		}
	}
}

func (l *Loader) handle(cmd command) {
	switch cmd.kind {
	case cmdScanDirectory:
		paths, err := l.scan(cmd.path, cmd.recursive)
		if err != nil {
			l.results <- Result{Output: cmd.output, Path: cmd.path, Err: err}
			return
		}
		log.Debugf("scanned %s for output %s: %d images", cmd.path, cmd.output, len(paths))
		l.results <- Result{Output: cmd.output, Path: cmd.path, Paths: paths}

	case cmdDecodeImage:
		img, err := decode.File(cmd.path)
		if err != nil {
			l.results <- Result{Output: cmd.output, Path: cmd.path, Err: err}
			return
		}
		l.results <- Result{Output: cmd.output, Path: cmd.path, Image: img}
	}
}

func (l *Loader) scan(root string, recursive bool) ([]string, error) {
	// Non-nil even when empty, so an empty scan still reads as a scan result.
	paths := []string{}

	err := afero.Walk(l.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if decode.IsImageFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stable order; the wallpaper applies its own sampling on top.
	sort.Strings(paths)
	return paths, nil
}
