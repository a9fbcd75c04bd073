package core

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/driftbg/driftbg/internal/cache"
	"github.com/driftbg/driftbg/internal/compose"
	"github.com/driftbg/driftbg/internal/compositor"
	"github.com/driftbg/driftbg/internal/config"
	"github.com/driftbg/driftbg/internal/decode"
	"github.com/driftbg/driftbg/internal/loader"
	"github.com/driftbg/driftbg/internal/scheduler"
	"github.com/driftbg/driftbg/internal/source"
)

// LoadingState tracks where a wallpaper is in its load cycle.
type LoadingState int

const (
	LoadingIdle LoadingState = iota
	LoadingScanning
	LoadingDecoding
	LoadingReady
	LoadingError
)

func (s LoadingState) String() string {
	switch s {
	case LoadingScanning:
		return "scanning"
	case LoadingDecoding:
		return "decoding"
	case LoadingReady:
		return "ready"
	case LoadingError:
		return "error"
	}
	return "idle"
}

// prepareBackoff is the minimum wait before retrying a failed source.
const prepareBackoff = time.Second

// maxFrameFailures is how many consecutive frame failures escalate to a full
// source failure.
const maxFrameFailures = 5

// Layer is the per-output rendering state within a wallpaper.
type Layer struct {
	Output      compositor.Output
	Surface     compositor.Surface
	NeedsRedraw bool
	committed   bool
}

func (l *Layer) effectiveSize() (int, int) {
	return compose.EffectiveSize(l.Output.Width, l.Output.Height, l.Output.Scale, l.Output.Transform)
}

func (l *Layer) format() compositor.PixelFormat {
	if l.Output.HDR {
		return compositor.FormatXRGB2101010
	}
	return compositor.FormatXRGB8888
}

// Wallpaper couples one config entry to the outputs it governs through a
// frame source. It is driven entirely from the orchestrator's event thread.
type Wallpaper struct {
	entry config.Entry

	src      source.Source
	sourceID string // regenerated with the source, for diagnostics

	layers map[string]*Layer

	queue   []string // slideshow queue; queue[0] is current
	loading LoadingState
	loadErr string

	slideshowDeadline time.Time
	retryAt           time.Time
	frameFailures     int
	decodePending     string // path awaiting an async decode result

	cache  *cache.Cache
	loader *loader.Loader
	sched  *scheduler.Scheduler
	clock  clockwork.Clock
	state  *config.State
}

func newWallpaper(entry config.Entry, c *cache.Cache, l *loader.Loader,
	s *scheduler.Scheduler, clock clockwork.Clock, state *config.State) *Wallpaper {

	w := &Wallpaper{
		entry:  entry,
		layers: map[string]*Layer{},
		cache:  c,
		loader: l,
		sched:  s,
		clock:  clock,
		state:  state,
	}
	w.loadImages()
	return w
}

// matches reports whether this wallpaper's selector covers the output.
func (w *Wallpaper) matches(outputName string) bool {
	return w.entry.Output == "all" || w.entry.Output == outputName
}

// isSlideshow reports whether the entry's source is a directory.
func (w *Wallpaper) isSlideshow() bool {
	if w.entry.Source.Type != config.SourcePath {
		return false
	}
	info, err := os.Stat(w.entry.Source.Path)
	return err == nil && info.IsDir()
}

// current is the image path currently shown by a slideshow.
func (w *Wallpaper) current() string {
	if len(w.queue) == 0 {
		return ""
	}
	return w.queue[0]
}

// attach adds a layer for a newly matched output and schedules its first
// draw.
func (w *Wallpaper) attach(out compositor.Output, surf compositor.Surface) {
	log.Infof("wallpaper %q attaching output %s (%dx%d scale %d, %s)",
		w.entry.Output, out.Name, out.Width, out.Height, out.Scale, out.Transform)

	w.layers[out.Name] = &Layer{Output: out, Surface: surf, NeedsRedraw: true}
	w.sched.Schedule(out.Name, 0)
}

// detach removes the layer for an output, destroying its surface.
func (w *Wallpaper) detach(outputName string) {
	layer, ok := w.layers[outputName]
	if !ok {
		return
	}
	layer.Surface.Destroy()
	delete(w.layers, outputName)
	w.sched.RemoveOutput(outputName)
	log.Infof("wallpaper %q detached output %s", w.entry.Output, outputName)
}

// release drops the frame source and all layers. Called when the wallpaper
// is removed entirely.
func (w *Wallpaper) release() {
	for name := range w.layers {
		w.detach(name)
	}
	w.releaseSource()
}

func (w *Wallpaper) releaseSource() {
	if w.src != nil {
		w.src.Release()
		w.src = nil
	}
	w.sourceID = ""
}

func (w *Wallpaper) setSource(src source.Source) {
	w.releaseSource()
	w.src = src
	w.sourceID = uuid.NewString()
	w.frameFailures = 0
	log.Debugf("wallpaper %q source %s: %s", w.entry.Output, w.sourceID[:8], src.Description())
}

// updateConfig applies a changed entry. An unchanged source descriptor keeps
// the live frame source and only refreshes parameters; otherwise the source
// is rebuilt from scratch.
func (w *Wallpaper) updateConfig(entry config.Entry) {
	sourceChanged := !w.entry.Source.Equal(entry.Source)
	rotationChanged := w.entry.RotationFrequency != entry.RotationFrequency
	samplingChanged := w.entry.SamplingMethod != entry.SamplingMethod

	w.entry = entry

	if sourceChanged {
		log.Infof("wallpaper %q source changed, rebuilding", w.entry.Output)
		w.releaseSource()
		w.queue = nil
		w.loading = LoadingIdle
		w.decodePending = ""
		for name := range w.layers {
			w.sched.RemoveOutput(name)
		}
		w.loadImages()
		w.requestRedraw()
		return
	}

	if samplingChanged && len(w.queue) > 1 {
		w.orderQueue()
	}
	if rotationChanged {
		w.armSlideshow()
	}
	w.requestRedraw()
}

// requestRedraw marks every layer dirty and schedules immediate ticks.
func (w *Wallpaper) requestRedraw() {
	for name, layer := range w.layers {
		layer.NeedsRedraw = true
		w.sched.Schedule(name, 0)
	}
}

// loadImages resolves the entry's source into a live frame source. Directory
// scans and single static image decodes go through the async loader;
// animated files and non-path sources are constructed directly.
func (w *Wallpaper) loadImages() {
	switch w.entry.Source.Type {
	case config.SourcePath:
		path := w.entry.Source.Path
		info, err := os.Stat(path)
		if err != nil {
			w.fail(fmt.Sprintf("stat %s: %v", path, err))
			return
		}

		if info.IsDir() {
			w.loading = LoadingScanning
			w.loader.ScanDirectory(w.entry.Output, path, underDataDirs(path))
			return
		}

		if isAnimatedFile(path) {
			src, err := source.New(w.entry.Source, w.cache)
			if err != nil {
				w.fail(err.Error())
				return
			}
			w.setSource(src)
			w.loading = LoadingReady
			return
		}

		// Single static file: decode off-thread, then serve from cache.
		w.loading = LoadingDecoding
		w.decodePending = path
		w.loader.DecodeImage(w.entry.Output, path)

	default:
		src, err := source.New(w.entry.Source, w.cache)
		if err != nil {
			w.fail(err.Error())
			return
		}
		w.setSource(src)
		w.loading = LoadingReady
	}
}

func isAnimatedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif", ".apng", ".webp":
		return true
	}
	return false
}

// underDataDirs reports whether path sits inside an XDG data backgrounds
// tree, which is walked recursively.
func underDataDirs(path string) bool {
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		return false
	}
	for _, dir := range strings.Split(dataDirs, ":") {
		if dir == "" {
			continue
		}
		if strings.HasPrefix(path, filepath.Join(dir, "backgrounds")) {
			return true
		}
	}
	return false
}

func (w *Wallpaper) fail(msg string) {
	log.Errorf("wallpaper %q: %s", w.entry.Output, msg)
	w.loading = LoadingError
	w.loadErr = msg
	w.retryAt = w.clock.Now().Add(prepareBackoff)
	w.requestRedraw()
}

// handleLoaderResult consumes a completion tagged for this wallpaper. Stale
// results are discarded by the caller comparing tags; here we additionally
// drop decodes for paths no longer awaited.
func (w *Wallpaper) handleLoaderResult(res loader.Result) {
	if res.Err != nil {
		w.fail(res.Err.Error())
		return
	}

	switch {
	case res.Paths != nil:
		if w.loading != LoadingScanning {
			log.Debugf("wallpaper %q: dropping stale scan of %s", w.entry.Output, res.Path)
			return
		}
		w.populateQueue(res.Paths)

	case res.Image != nil:
		if w.loading != LoadingDecoding || res.Path != w.decodePending {
			log.Debugf("wallpaper %q: dropping stale decode of %s", w.entry.Output, res.Path)
			return
		}
		w.decodePending = ""
		w.finishDecode(res.Path, res.Image)
	}
}

// populateQueue installs a completed directory scan as the slideshow queue.
func (w *Wallpaper) populateQueue(paths []string) {
	if len(paths) == 0 {
		w.fail(fmt.Sprintf("no images in %s", w.entry.Source.Path))
		return
	}

	previous := w.current()
	w.queue = slices.Clone(paths)
	w.orderQueue()

	// Resume from the persisted cursor, or from the in-memory position when
	// the directory was rescanned underneath a live slideshow.
	resume := previous
	if resume == "" {
		resume = w.state.Current(w.entry.Output)
	}
	if resume != "" {
		if pos := slices.Index(w.queue, resume); pos > 0 {
			w.queue = append(w.queue[pos:], w.queue[:pos]...)
		}
	}

	log.Infof("wallpaper %q: slideshow queue of %d images", w.entry.Output, len(w.queue))
	w.armSlideshow()
	w.showCurrent()
}

func (w *Wallpaper) orderQueue() {
	switch w.entry.SamplingMethod {
	case config.SamplingRandom:
		rand.Shuffle(len(w.queue), func(i, j int) {
			w.queue[i], w.queue[j] = w.queue[j], w.queue[i]
		})
	default:
		sort.Strings(w.queue)
	}
}

// armSlideshow sets the next rotation deadline and schedules ticks for it. A
// queue of one image never rotates.
func (w *Wallpaper) armSlideshow() {
	if w.entry.RotationFrequency <= 0 || len(w.queue) <= 1 {
		w.slideshowDeadline = time.Time{}
		return
	}

	interval := time.Duration(w.entry.RotationFrequency * float64(time.Second))
	w.slideshowDeadline = w.clock.Now().Add(interval)
	for name := range w.layers {
		w.sched.Schedule(name, interval)
	}
}

// showCurrent requests the decode of the slideshow's current image.
func (w *Wallpaper) showCurrent() {
	path := w.current()
	if path == "" {
		return
	}

	if err := w.state.SetCurrent(w.entry.Output, path); err != nil {
		log.Warnf("failed to persist slideshow state: %v", err)
	}

	if isAnimatedFile(path) {
		src, err := source.New(config.Source{Type: config.SourcePath, Path: path}, w.cache)
		if err != nil {
			w.fail(err.Error())
			return
		}
		w.setSource(src)
		w.loading = LoadingReady
		w.requestRedraw()
		return
	}

	key := cache.Key{Path: path, ModTime: decode.ModTime(path)}
	if _, ok := w.cache.Get(key); ok {
		w.finishDecode(path, nil)
		return
	}
	w.loading = LoadingDecoding
	w.decodePending = path
	w.loader.DecodeImage(w.entry.Output, path)
}

// finishDecode installs a decoded static image as the live source. The image
// lands in the shared cache so the source's own prepare is a cache hit.
func (w *Wallpaper) finishDecode(path string, img image.Image) {
	if img != nil {
		w.cache.Insert(cache.Key{Path: path, ModTime: decode.ModTime(path)}, img)
	}

	src := config.Source{Type: config.SourcePath, Path: path}
	s, err := source.New(src, w.cache)
	if err != nil {
		w.fail(err.Error())
		return
	}
	w.setSource(s)
	w.loading = LoadingReady
	w.loadErr = ""
	w.requestRedraw()
}

// advanceSlideshow rotates the queue per the sampling method and loads the
// next image.
func (w *Wallpaper) advanceSlideshow() {
	if len(w.queue) <= 1 {
		return
	}

	w.queue = append(w.queue[1:], w.queue[0])
	log.Infof("wallpaper %q: advancing slideshow to %s", w.entry.Output, w.current())
	w.showCurrent()
}

// dirChanged folds filesystem watcher events into the slideshow queue: new
// files join (deduplicated), removed files leave.
func (w *Wallpaper) dirChanged(added, removed []string) {
	for _, path := range added {
		if decode.IsImageFile(path) && !slices.Contains(w.queue, path) {
			w.queue = append(w.queue, path)
		}
	}
	if len(removed) > 0 {
		w.queue = slices.DeleteFunc(w.queue, func(p string) bool {
			return slices.Contains(removed, p)
		})
	}
}

// onTick drives one output's layer: advance the slideshow when due, redraw
// what needs drawing, and reschedule animated sources.
func (w *Wallpaper) onTick(outputName string) {
	now := w.clock.Now()

	// A failed source retries its whole load cycle after the backoff.
	if w.loading == LoadingError {
		if now.Before(w.retryAt) {
			w.sched.Schedule(outputName, w.retryAt.Sub(now))
			w.drawFallback(outputName)
			return
		}
		log.Debugf("wallpaper %q: retrying after error", w.entry.Output)
		w.loading = LoadingIdle
		w.loadImages()
	}

	if !w.slideshowDeadline.IsZero() && !now.Before(w.slideshowDeadline) {
		w.advanceSlideshow()
		w.armSlideshow()
	}

	layer, ok := w.layers[outputName]
	if !ok {
		return
	}

	animated := w.src != nil && w.src.IsAnimated()
	if layer.NeedsRedraw || animated {
		w.draw(layer)
	}

	// Reschedule while the source keeps changing; IsAnimated flips off when
	// a finite animation completes.
	if w.src != nil && w.src.IsAnimated() && w.loading == LoadingReady {
		w.sched.Schedule(outputName, w.src.FrameDuration())
	}
}

// draw renders one layer: prepare, next frame, scale, compose, commit.
func (w *Wallpaper) draw(layer *Layer) {
	if w.loading != LoadingReady || w.src == nil {
		// Nothing decoded yet. Keep the surface mapped with the fallback
		// color rather than leaving the compositor's clear color visible.
		if !layer.committed {
			w.drawFallback(layer.Output.Name)
		}
		return
	}

	width, height := layer.effectiveSize()

	if err := w.src.Prepare(width, height); err != nil {
		w.fail(fmt.Sprintf("prepare %s: %v", w.src.Description(), err))
		w.drawFallback(layer.Output.Name)
		return
	}

	frame, err := w.src.NextFrame()
	if errors.Is(err, source.ErrEndOfStream) {
		log.Debugf("wallpaper %q: animation finished", w.entry.Output)
		return
	}
	if err != nil {
		w.frameFailures++
		log.Warnf("wallpaper %q: frame failed (%d/%d): %v",
			w.entry.Output, w.frameFailures, maxFrameFailures, err)
		if w.frameFailures >= maxFrameFailures {
			w.fail(fmt.Sprintf("giving up after %d frame failures", w.frameFailures))
			w.drawFallback(layer.Output.Name)
		} else {
			w.sched.Schedule(layer.Output.Name, prepareBackoff)
		}
		return
	}
	w.frameFailures = 0

	scaled := compose.Scale(frame.Image, width, height,
		w.entry.ScalingMode, w.entry.FilterMethod, w.entry.FitColor)

	if err := w.commit(layer, width, height, scaled); err != nil {
		log.Errorf("wallpaper %q: commit to %s failed: %v", w.entry.Output, layer.Output.Name, err)
		return
	}
	layer.NeedsRedraw = false
}

// drawFallback fills the layer with the entry's fallback color.
func (w *Wallpaper) drawFallback(outputName string) {
	layer, ok := w.layers[outputName]
	if !ok {
		return
	}

	width, height := layer.effectiveSize()
	img := compose.Scale(solidImage(w.entry.FallbackColor), width, height,
		config.ScalingModeStretch, config.FilterLinear, [3]float64{})

	if err := w.commit(layer, width, height, img); err != nil {
		log.Errorf("wallpaper %q: fallback commit to %s failed: %v", w.entry.Output, outputName, err)
	}
}

func (w *Wallpaper) commit(layer *Layer, width, height int, img *image.NRGBA) error {
	buf, err := layer.Surface.AcquireBuffer(width, height, layer.format())
	if err != nil {
		return err
	}
	if err := compose.RenderInto(buf, img); err != nil {
		return err
	}
	if err := layer.Surface.Commit(buf); err != nil {
		return err
	}
	layer.committed = true
	return nil
}

func solidImage(c [3]float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0] = uint8(c[0] * 255)
	img.Pix[1] = uint8(c[1] * 255)
	img.Pix[2] = uint8(c[2] * 255)
	img.Pix[3] = 255
	return img
}

// status summarizes the wallpaper for the control socket.
func (w *Wallpaper) status() (output, src, loading, current string, layers []string) {
	src = string(w.entry.Source.Type)
	if w.src != nil {
		src = w.src.Description()
	}
	loading = w.loading.String()
	if w.loading == LoadingError {
		loading = fmt.Sprintf("error: %s", w.loadErr)
	}
	for name := range w.layers {
		layers = append(layers, name)
	}
	sort.Strings(layers)
	return w.entry.Output, src, loading, w.current(), layers
}
