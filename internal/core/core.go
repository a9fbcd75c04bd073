// Package core is the daemon's orchestrator: it owns the wallpapers, drives
// the event loop, routes config diffs and loader results, and dispatches
// scheduler ticks. Wallpaper state is touched only from the event thread.
package core

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/driftbg/driftbg"
	"github.com/driftbg/driftbg/internal/cache"
	"github.com/driftbg/driftbg/internal/compositor"
	"github.com/driftbg/driftbg/internal/config"
	"github.com/driftbg/driftbg/internal/ipc"
	"github.com/driftbg/driftbg/internal/loader"
	"github.com/driftbg/driftbg/internal/scheduler"
)

// Core owns every wallpaper and runs the event loop.
type Core struct {
	conn   compositor.Conn
	cache  *cache.Cache
	loader *loader.Loader
	sched  *scheduler.Scheduler
	clock  clockwork.Clock
	state  *config.State

	wallpapers []*Wallpaper
	entries    []config.Entry
	outputs    map[string]compositor.Output
	// owner tracks which wallpaper holds each output's layer.
	owner map[string]*Wallpaper

	watcher *fsnotify.Watcher
	watched map[string]bool

	configCh   chan []config.Entry
	commands   chan ipc.Command
	statusReqs chan chan ipc.Status

	running bool
}

// Options carries the injectable pieces; zero values get production
// defaults.
type Options struct {
	Conn   compositor.Conn
	Cache  *cache.Cache
	Loader *loader.Loader
	Clock  clockwork.Clock
	State  *config.State
}

// New assembles the orchestrator.
func New(opts Options) *Core {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	state := opts.State
	if state == nil {
		state = config.LoadState(config.StatePath())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("filesystem watcher unavailable: %v", err)
	}

	return &Core{
		conn:       opts.Conn,
		cache:      opts.Cache,
		loader:     opts.Loader,
		sched:      scheduler.New(clock),
		clock:      clock,
		state:      state,
		outputs:    map[string]compositor.Output{},
		owner:      map[string]*Wallpaper{},
		watcher:    watcher,
		watched:    map[string]bool{},
		configCh:   make(chan []config.Entry, 4),
		commands:   make(chan ipc.Command, 4),
		statusReqs: make(chan chan ipc.Status, 4),
	}
}

// ApplyConfig hands a validated entry list to the event loop.
func (c *Core) ApplyConfig(entries []config.Entry) {
	c.configCh <- entries
}

// EnqueueCommand implements ipc.Manager.
func (c *Core) EnqueueCommand(cmd ipc.Command) {
	select {
	case c.commands <- cmd:
	default:
		log.Warn("command queue full, dropping command")
	}
}

// Status implements ipc.Manager. It round-trips through the event loop so
// wallpaper state is only ever read on the event thread.
func (c *Core) Status() ipc.Status {
	reply := make(chan ipc.Status, 1)
	select {
	case c.statusReqs <- reply:
		select {
		case st := <-reply:
			return st
		case <-time.After(2 * time.Second):
		}
	default:
	}
	return ipc.Status{Status: "busy", Message: "daemon did not respond"}
}

// Run blocks until a stop command arrives or a fatal condition occurs.
// Returns a non-nil error only for abnormal termination.
func (c *Core) Run() error {
	c.running = true

	// Outputs that existed before the loop started.
	for _, out := range c.conn.Outputs() {
		c.outputAdded(out)
	}

	timer := c.clock.NewTimer(time.Hour)
	defer timer.Stop()

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if c.watcher != nil {
		watchEvents = make(chan fsnotify.Event)
		watchErrors = make(chan error)
		go func() {
			for ev := range c.watcher.Events {
				watchEvents <- ev
			}
		}()
		go func() {
			for err := range c.watcher.Errors {
				watchErrors <- err
			}
		}()
	}

	var runErr error
	for c.running {
		var timerCh <-chan time.Time
		if until, ok := c.sched.NextDeadline(); ok {
			timer.Reset(until)
			timerCh = timer.Chan()
		}

		select {
		case ev := <-c.conn.Events():
			c.handleCompositorEvent(ev)
			if ev.Kind == compositor.EventConnectionLost {
				runErr = errors.New("compositor connection lost")
			}

		case entries := <-c.configCh:
			c.applyEntries(entries)

		case res, ok := <-c.loader.Results():
			if !ok {
				log.Error("loader channel closed, shutting down")
				runErr = errors.New("loader channel closed")
				c.running = false
				break
			}
			c.routeLoaderResult(res)

		case cmd := <-c.commands:
			c.handleCommand(cmd)

		case reply := <-c.statusReqs:
			reply <- c.buildStatus()

		case ev := <-watchEvents:
			c.handleWatchEvent(ev)

		case err := <-watchErrors:
			log.Warnf("filesystem watcher: %v", err)

		case <-timerCh:
			// Pending config and loader results apply before the tick so a
			// freshly reconfigured wallpaper never renders stale state.
			c.drainPending()
			c.tick()
		}
	}

	c.shutdown()
	return runErr
}

// drainPending applies queued config changes and loader completions without
// blocking.
func (c *Core) drainPending() {
	for {
		select {
		case entries := <-c.configCh:
			c.applyEntries(entries)
		case res, ok := <-c.loader.Results():
			if !ok {
				return
			}
			c.routeLoaderResult(res)
		default:
			return
		}
	}
}

func (c *Core) tick() {
	ready := c.sched.PopReady(c.clock.Now())
	for _, outputName := range ready {
		if w, ok := c.owner[outputName]; ok {
			w.onTick(outputName)
		}
	}
}

func (c *Core) handleCompositorEvent(ev compositor.Event) {
	switch ev.Kind {
	case compositor.EventOutputAdded:
		c.outputAdded(ev.Output)

	case compositor.EventOutputRemoved, compositor.EventClosed:
		c.outputRemoved(ev.Output.Name)

	case compositor.EventConfigure:
		c.outputs[ev.Output.Name] = ev.Output
		if w, ok := c.owner[ev.Output.Name]; ok {
			if layer, ok := w.layers[ev.Output.Name]; ok {
				layer.Output = ev.Output
				layer.NeedsRedraw = true
			}
			c.sched.Schedule(ev.Output.Name, 0)
		}

	case compositor.EventScaleChanged:
		c.outputs[ev.Output.Name] = ev.Output
		if w, ok := c.owner[ev.Output.Name]; ok {
			if layer, ok := w.layers[ev.Output.Name]; ok {
				layer.Output = ev.Output
				layer.Surface.SetScale(ev.Output.Scale)
				layer.NeedsRedraw = true
			}
			c.sched.Schedule(ev.Output.Name, 0)
		}

	case compositor.EventTransformChanged:
		c.outputs[ev.Output.Name] = ev.Output
		if w, ok := c.owner[ev.Output.Name]; ok {
			if layer, ok := w.layers[ev.Output.Name]; ok {
				layer.Output = ev.Output
				layer.NeedsRedraw = true
			}
			c.sched.Schedule(ev.Output.Name, 0)
		}

	case compositor.EventConnectionLost:
		log.Error("compositor connection lost, shutting down")
		c.running = false
	}
}

func (c *Core) outputAdded(out compositor.Output) {
	c.outputs[out.Name] = out
	log.Infof("output %s added: %dx%d scale %d transform %s hdr %v",
		out.Name, out.Width, out.Height, out.Scale, out.Transform, out.HDR)
	c.assignOutput(out.Name)
}

func (c *Core) outputRemoved(name string) {
	if w, ok := c.owner[name]; ok {
		w.detach(name)
		delete(c.owner, name)
	}
	delete(c.outputs, name)
	log.Infof("output %s removed", name)
}

// claimant picks the wallpaper governing an output: an exact selector match
// wins over "all".
func (c *Core) claimant(outputName string) *Wallpaper {
	var all *Wallpaper
	for _, w := range c.wallpapers {
		switch w.entry.Output {
		case outputName:
			return w
		case "all":
			if all == nil {
				all = w
			}
		}
	}
	return all
}

// assignOutput (re)binds an output to the wallpaper that claims it.
func (c *Core) assignOutput(name string) {
	out, ok := c.outputs[name]
	if !ok {
		return
	}

	want := c.claimant(name)
	have := c.owner[name]
	if want == have {
		return
	}

	if have != nil {
		have.detach(name)
		delete(c.owner, name)
	}
	if want == nil {
		return
	}

	surf, err := c.conn.CreateSurface(name)
	if err != nil {
		log.Errorf("failed to create surface on %s: %v", name, err)
		return
	}
	want.attach(out, surf)
	c.owner[name] = want
}

// applyEntries diffs the incoming entry list against the current one and
// touches only the wallpapers whose entries changed.
func (c *Core) applyEntries(entries []config.Entry) {
	diff := config.DiffEntries(c.entries, entries)
	if diff.Empty() {
		return
	}
	log.Infof("applying config: %d added, %d removed, %d updated",
		len(diff.Added), len(diff.Removed), len(diff.Updated))

	for _, outputSel := range diff.Removed {
		for i, w := range c.wallpapers {
			if w.entry.Output == outputSel {
				w.release()
				for name, owner := range c.owner {
					if owner == w {
						delete(c.owner, name)
					}
				}
				c.wallpapers = append(c.wallpapers[:i], c.wallpapers[i+1:]...)
				break
			}
		}
		if err := c.state.Forget(outputSel); err != nil {
			log.Debugf("failed to drop persisted state for %q: %v", outputSel, err)
		}
	}

	for _, entry := range diff.Updated {
		for _, w := range c.wallpapers {
			if w.entry.Output == entry.Output {
				w.updateConfig(entry)
				c.watchSource(w)
				break
			}
		}
	}

	for _, entry := range diff.Added {
		w := newWallpaper(entry, c.cache, c.loader, c.sched, c.clock, c.state)
		c.wallpapers = append(c.wallpapers, w)
		c.watchSource(w)
	}

	c.entries = entries

	// Rebind every output: removals free outputs, additions may claim them.
	for name := range c.outputs {
		c.assignOutput(name)
	}
}

// watchSource registers slideshow directories with the filesystem watcher so
// live additions and removals reach the queue.
func (c *Core) watchSource(w *Wallpaper) {
	if c.watcher == nil || w.entry.Source.Type != config.SourcePath {
		return
	}
	path := w.entry.Source.Path
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || c.watched[path] {
		return
	}
	if err := c.watcher.Add(path); err != nil {
		log.Debugf("failed to watch %s: %v", path, err)
		return
	}
	c.watched[path] = true
	log.Debugf("watching %s for slideshow changes", path)
}

func (c *Core) handleWatchEvent(ev fsnotify.Event) {
	var added, removed []string
	switch {
	case ev.Op.Has(fsnotify.Create):
		added = []string{ev.Name}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		removed = []string{ev.Name}
	default:
		return
	}

	dir := ev.Name
	for _, w := range c.wallpapers {
		if w.entry.Source.Type != config.SourcePath {
			continue
		}
		if !pathWithin(dir, w.entry.Source.Path) {
			continue
		}
		w.dirChanged(added, removed)
	}
}

func pathWithin(path, dir string) bool {
	return strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/")
}

// routeLoaderResult delivers a completion to the wallpaper whose selector
// matches its tag; anything else is stale and dropped.
func (c *Core) routeLoaderResult(res loader.Result) {
	for _, w := range c.wallpapers {
		if w.entry.Output == res.Output {
			w.handleLoaderResult(res)
			return
		}
	}
	log.Debugf("dropping loader result for departed wallpaper %q", res.Output)
}

func (c *Core) handleCommand(cmd ipc.Command) {
	switch cmd.Type {
	case ipc.CommandStop:
		log.Info("stop requested over control socket")
		c.running = false

	case ipc.CommandNext:
		for _, w := range c.wallpapers {
			if cmd.Output != "" && !w.matches(cmd.Output) {
				continue
			}
			if len(w.queue) > 1 {
				w.advanceSlideshow()
				w.armSlideshow()
			}
		}

	default:
		log.Errorf("unknown command %q", cmd.Type)
	}
}

func (c *Core) buildStatus() ipc.Status {
	st := ipc.Status{
		Status:  "ok",
		Message: "driftbg is running",
		Version: version(),
		PID:     os.Getpid(),
		Socket:  ipc.SocketPath(),
		Config:  viper.ConfigFileUsed(),
		Cache:   c.cache.Stats(),
	}
	for _, w := range c.wallpapers {
		output, src, loading, current, layers := w.status()
		st.Wallpapers = append(st.Wallpapers, ipc.WallpaperStatus{
			Output:  output,
			Source:  src,
			Loading: loading,
			Current: current,
			Layers:  layers,
		})
	}
	return st
}

func version() string {
	return strings.TrimSpace(driftbg.Version)
}

func (c *Core) shutdown() {
	log.Info("shutting down")
	for _, w := range c.wallpapers {
		w.release()
	}
	c.wallpapers = nil
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.loader.Close()
	c.conn.Close()
	log.Info("wallpaper core stopped")
}
