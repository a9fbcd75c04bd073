// Package wayland implements the compositor boundary against libwayland. One
// background layer surface is created per output; frames are committed as
// wl_shm buffers. The registry and listener plumbing follows the usual cgo
// pattern: exported Go callbacks behind C trampolines, keyed by a cgo.Handle.
package wayland

/*
#cgo LDFLAGS: -lwayland-client
#include <stdlib.h>
#include <wayland-client.h>
#include "layer_shell.h"
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/charmbracelet/log"

	"github.com/driftbg/driftbg/internal/compositor"
)

type output struct {
	registryName uint32
	wlOutput     *C.struct_wl_output

	name      string
	width     int
	height    int
	scale     int
	transform compositor.Transform
	announced bool

	// pending state accumulated until wl_output.done
	pendingTransform compositor.Transform
	pendingWidth     int
	pendingHeight    int
}

// Conn is the live Wayland connection.
type Conn struct {
	display    *C.struct_wl_display
	registry   *C.struct_wl_registry
	compositor *C.struct_wl_compositor
	shm        *C.struct_wl_shm
	layerShell *C.struct_zwlr_layer_shell_v1

	compositorVersion int

	handle cgo.Handle

	mu       sync.Mutex
	outputs  map[uint32]*output
	surfaces map[*C.struct_zwlr_layer_surface_v1]*surface
	hdr      bool

	events  chan compositor.Event
	started bool
}

const configureTimeout = 5 * time.Second

// Connect dials the display named by WAYLAND_DISPLAY and binds the globals
// the daemon requires. Missing wl_compositor, wl_shm, or layer-shell is
// fatal.
func Connect() (*Conn, error) {
	display := C.wl_display_connect(nil)
	if display == nil {
		return nil, fmt.Errorf("failed to connect to Wayland display")
	}

	c := &Conn{
		display:  display,
		outputs:  make(map[uint32]*output),
		surfaces: make(map[*C.struct_zwlr_layer_surface_v1]*surface),
		events:   make(chan compositor.Event, 64),
	}
	c.handle = cgo.NewHandle(c)

	c.registry = C.wl_display_get_registry(display)
	if c.registry == nil {
		c.Close()
		return nil, fmt.Errorf("failed to get Wayland registry")
	}
	C.wl_registry_add_listener(c.registry, C.driftbg_registry_listener(),
		unsafe.Pointer(uintptr(c.handle)))

	// First roundtrip announces globals, second delivers the per-output
	// events triggered by binding them.
	C.wl_display_roundtrip(display)
	C.wl_display_roundtrip(display)

	switch {
	case c.compositor == nil:
		c.Close()
		return nil, fmt.Errorf("compositor does not advertise wl_compositor")
	case c.shm == nil:
		c.Close()
		return nil, fmt.Errorf("compositor does not advertise wl_shm")
	case c.layerShell == nil:
		c.Close()
		return nil, fmt.Errorf("compositor does not advertise zwlr_layer_shell_v1")
	}

	// Announce the outputs discovered during the roundtrips.
	c.mu.Lock()
	for _, out := range c.outputs {
		if !out.announced && out.width > 0 {
			out.announced = true
			c.emit(compositor.Event{Kind: compositor.EventOutputAdded, Output: c.snapshot(out)})
		}
	}
	c.mu.Unlock()

	c.started = true
	go c.dispatchLoop()

	return c, nil
}

// dispatchLoop pumps compositor events until the connection dies.
func (c *Conn) dispatchLoop() {
	for {
		if C.wl_display_dispatch(c.display) < 0 {
			log.Error("wayland connection lost")
			c.emit(compositor.Event{Kind: compositor.EventConnectionLost})
			return
		}
	}
}

// emit never blocks the dispatch thread; a full queue drops with a warning.
func (c *Conn) emit(ev compositor.Event) {
	select {
	case c.events <- ev:
	default:
		log.Warnf("compositor event queue full, dropping %v", ev.Kind)
	}
}

func (c *Conn) snapshot(out *output) compositor.Output {
	name := out.name
	if name == "" {
		name = fmt.Sprintf("output-%d", out.registryName)
	}
	scale := out.scale
	if scale <= 0 {
		scale = 1
	}
	// Modes arrive in physical pixels; the core works from the logical
	// advertised size and multiplies the scale back in when compositing.
	return compositor.Output{
		Name:      name,
		Width:     out.width / scale,
		Height:    out.height / scale,
		Scale:     scale,
		Transform: out.transform,
		HDR:       c.hdr,
	}
}

// Events implements compositor.Conn.
func (c *Conn) Events() <-chan compositor.Event {
	return c.events
}

// Outputs implements compositor.Conn.
func (c *Conn) Outputs() []compositor.Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	var outs []compositor.Output
	for _, out := range c.outputs {
		if out.announced {
			outs = append(outs, c.snapshot(out))
		}
	}
	return outs
}

func (c *Conn) findOutput(name string) *output {
	for _, out := range c.outputs {
		if c.snapshot(out).Name == name {
			return out
		}
	}
	return nil
}

// CreateSurface implements compositor.Conn. It blocks until the compositor
// configures the new layer surface.
func (c *Conn) CreateSurface(outputName string) (compositor.Surface, error) {
	c.mu.Lock()
	out := c.findOutput(outputName)
	c.mu.Unlock()
	if out == nil {
		return nil, fmt.Errorf("unknown output %q", outputName)
	}

	wlSurface := C.wl_compositor_create_surface(c.compositor)
	if wlSurface == nil {
		return nil, fmt.Errorf("failed to create wl_surface for %s", outputName)
	}

	namespace := C.CString("wallpaper")
	defer C.free(unsafe.Pointer(namespace))

	layerSurf := C.zwlr_layer_shell_v1_get_layer_surface(
		c.layerShell, wlSurface, out.wlOutput,
		C.ZWLR_LAYER_SHELL_V1_LAYER_BACKGROUND, namespace)
	if layerSurf == nil {
		C.wl_surface_destroy(wlSurface)
		return nil, fmt.Errorf("failed to create layer surface for %s", outputName)
	}

	s := &surface{
		conn:       c,
		outputName: outputName,
		wlSurface:  wlSurface,
		layerSurf:  layerSurf,
		configured: make(chan struct{}, 1),
		scale:      out.scale,
	}

	c.mu.Lock()
	c.surfaces[layerSurf] = s
	c.mu.Unlock()

	C.zwlr_layer_surface_v1_add_listener(layerSurf,
		C.driftbg_layer_surface_listener(), unsafe.Pointer(uintptr(c.handle)))

	C.zwlr_layer_surface_v1_set_anchor(layerSurf,
		C.ZWLR_LAYER_SURFACE_V1_ANCHOR_TOP|
			C.ZWLR_LAYER_SURFACE_V1_ANCHOR_BOTTOM|
			C.ZWLR_LAYER_SURFACE_V1_ANCHOR_LEFT|
			C.ZWLR_LAYER_SURFACE_V1_ANCHOR_RIGHT)
	C.zwlr_layer_surface_v1_set_exclusive_zone(layerSurf, -1)
	C.zwlr_layer_surface_v1_set_size(layerSurf, 0, 0)
	C.zwlr_layer_surface_v1_set_keyboard_interactivity(layerSurf, 0)
	C.zwlr_layer_surface_v1_set_margin(layerSurf, 0, 0, 0, 0)

	if c.compositorVersion >= 3 && s.scale > 1 {
		C.wl_surface_set_buffer_scale(wlSurface, C.int32_t(s.scale))
	}
	C.wl_surface_commit(wlSurface)
	C.wl_display_flush(c.display)

	select {
	case <-s.configured:
		log.Debugf("surface for %s configured: %dx%d", outputName, s.width, s.height)
	case <-time.After(configureTimeout):
		s.Destroy()
		return nil, fmt.Errorf("timeout waiting for %s surface configure", outputName)
	}

	return s, nil
}

// Flush implements compositor.Conn.
func (c *Conn) Flush() {
	if c.display != nil {
		C.wl_display_flush(c.display)
	}
}

// Close implements compositor.Conn.
func (c *Conn) Close() {
	c.mu.Lock()
	for _, s := range c.surfaces {
		s.destroyLocked()
	}
	c.surfaces = make(map[*C.struct_zwlr_layer_surface_v1]*surface)
	c.mu.Unlock()

	if c.display != nil {
		C.wl_display_disconnect(c.display)
		c.display = nil
	}
	c.handle.Delete()
}

//export goHandleGlobal
func goHandleGlobal(handle C.uintptr_t, registry *C.struct_wl_registry,
	name C.uint32_t, iface *C.char, version C.uint32_t) {

	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	switch C.GoString(iface) {
	case "wl_compositor":
		// wl_surface.set_buffer_scale needs v3.
		want := C.uint32_t(4)
		if version < want {
			want = version
		}
		c.compositor = (*C.struct_wl_compositor)(C.wl_registry_bind(
			registry, name, &C.wl_compositor_interface, want))
		c.compositorVersion = int(want)
		log.Debug("bound wl_compositor")

	case "wl_shm":
		c.shm = (*C.struct_wl_shm)(C.wl_registry_bind(
			registry, name, &C.wl_shm_interface, 1))
		C.wl_shm_add_listener(c.shm, C.driftbg_shm_listener(),
			unsafe.Pointer(uintptr(handle)))
		log.Debug("bound wl_shm")

	case "zwlr_layer_shell_v1":
		c.layerShell = (*C.struct_zwlr_layer_shell_v1)(C.wl_registry_bind(
			registry, name, &C.zwlr_layer_shell_v1_interface, 1))
		log.Debug("bound zwlr_layer_shell_v1")

	case "wl_output":
		// The name event needs v4; older compositors get synthetic names.
		want := C.uint32_t(4)
		if version < want {
			want = version
		}
		wlOut := (*C.struct_wl_output)(C.wl_registry_bind(
			registry, name, &C.wl_output_interface, want))

		c.mu.Lock()
		c.outputs[uint32(name)] = &output{
			registryName: uint32(name),
			wlOutput:     wlOut,
			scale:        1,
		}
		c.mu.Unlock()

		C.wl_output_add_listener(wlOut, C.driftbg_output_listener(),
			unsafe.Pointer(uintptr(handle)))
		log.Debugf("bound wl_output id=%d", uint32(name))
	}
}

//export goHandleGlobalRemove
func goHandleGlobalRemove(handle C.uintptr_t, _ *C.struct_wl_registry, name C.uint32_t) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	out, ok := c.outputs[uint32(name)]
	var snap compositor.Output
	if ok {
		snap = c.snapshot(out)
		delete(c.outputs, uint32(name))
	}
	c.mu.Unlock()

	if ok && out.announced {
		log.Debugf("output %s removed", snap.Name)
		c.emit(compositor.Event{Kind: compositor.EventOutputRemoved, Output: snap})
	}
}

func (c *Conn) lookupOutput(wlOut *C.struct_wl_output) *output {
	for _, out := range c.outputs {
		if out.wlOutput == wlOut {
			return out
		}
	}
	return nil
}

//export goHandleOutputGeometry
func goHandleOutputGeometry(handle C.uintptr_t, wlOut *C.struct_wl_output, transform C.int32_t) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if out := c.lookupOutput(wlOut); out != nil {
		out.pendingTransform = compositor.Transform(transform)
	}
}

//export goHandleOutputMode
func goHandleOutputMode(handle C.uintptr_t, wlOut *C.struct_wl_output,
	flags C.uint32_t, width, height C.int32_t) {

	const currentMode = 0x1
	if flags&currentMode == 0 {
		return
	}

	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if out := c.lookupOutput(wlOut); out != nil {
		out.pendingWidth = int(width)
		out.pendingHeight = int(height)
	}
}

//export goHandleOutputDone
func goHandleOutputDone(handle C.uintptr_t, wlOut *C.struct_wl_output) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	out := c.lookupOutput(wlOut)
	if out == nil {
		c.mu.Unlock()
		return
	}

	transformChanged := out.announced && out.pendingTransform != out.transform
	out.transform = out.pendingTransform
	if out.pendingWidth > 0 {
		out.width = out.pendingWidth
		out.height = out.pendingHeight
	}

	firstAnnounce := !out.announced && out.width > 0 && c.started
	if firstAnnounce {
		out.announced = true
	}
	snap := c.snapshot(out)
	c.mu.Unlock()

	if firstAnnounce {
		c.emit(compositor.Event{Kind: compositor.EventOutputAdded, Output: snap})
	} else if transformChanged {
		c.emit(compositor.Event{Kind: compositor.EventTransformChanged, Output: snap})
	}
}

//export goHandleOutputScale
func goHandleOutputScale(handle C.uintptr_t, wlOut *C.struct_wl_output, factor C.int32_t) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	scale := int(factor)
	if scale <= 0 {
		scale = 1
	}

	c.mu.Lock()
	out := c.lookupOutput(wlOut)
	if out == nil || out.scale == scale {
		c.mu.Unlock()
		return
	}
	out.scale = scale
	announced := out.announced
	snap := c.snapshot(out)
	c.mu.Unlock()

	if announced {
		c.emit(compositor.Event{Kind: compositor.EventScaleChanged, Output: snap})
	}
}

//export goHandleOutputName
func goHandleOutputName(handle C.uintptr_t, wlOut *C.struct_wl_output, name *C.char) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if out := c.lookupOutput(wlOut); out != nil {
		out.name = C.GoString(name)
	}
}

//export goHandleShmFormat
func goHandleShmFormat(handle C.uintptr_t, format C.uint32_t) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	if format == C.WL_SHM_FORMAT_XRGB2101010 {
		c.mu.Lock()
		c.hdr = true
		c.mu.Unlock()
		log.Debug("compositor supports xrgb2101010 buffers")
	}
}

//export goHandleLayerSurfaceConfigure
func goHandleLayerSurfaceConfigure(handle C.uintptr_t,
	layerSurf *C.struct_zwlr_layer_surface_v1, serial, width, height C.uint32_t) {

	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	C.zwlr_layer_surface_v1_ack_configure(layerSurf, serial)

	c.mu.Lock()
	s, ok := c.surfaces[layerSurf]
	if !ok {
		c.mu.Unlock()
		return
	}
	first := s.width == 0 && s.height == 0
	s.width = int(width)
	s.height = int(height)

	var snap compositor.Output
	if out := c.findOutput(s.outputName); out != nil {
		snap = c.snapshot(out)
	} else {
		snap = compositor.Output{Name: s.outputName}
	}
	c.mu.Unlock()

	if first {
		select {
		case s.configured <- struct{}{}:
		default:
		}
	}
	c.emit(compositor.Event{Kind: compositor.EventConfigure, Output: snap})
}

//export goHandleLayerSurfaceClosed
func goHandleLayerSurfaceClosed(handle C.uintptr_t, layerSurf *C.struct_zwlr_layer_surface_v1) {
	c := cgo.Handle(uintptr(handle)).Value().(*Conn)

	c.mu.Lock()
	s, ok := c.surfaces[layerSurf]
	var name string
	if ok {
		name = s.outputName
		s.destroyLocked()
		delete(c.surfaces, layerSurf)
	}
	c.mu.Unlock()

	if ok {
		log.Debugf("layer surface for %s closed by compositor", name)
		c.emit(compositor.Event{
			Kind:   compositor.EventClosed,
			Output: compositor.Output{Name: name},
		})
	}
}

//export goHandleBufferRelease
func goHandleBufferRelease(handle C.uintptr_t, _ *C.struct_wl_buffer) {
	slot := cgo.Handle(uintptr(handle)).Value().(*bufferSlot)
	slot.busy.Store(false)
}
