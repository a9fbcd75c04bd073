package wayland

/*
#include <wayland-client.h>
#include "layer_shell.h"
*/
import "C"

import (
	"fmt"
	"math"
	"runtime/cgo"
	"sync/atomic"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/driftbg/driftbg/internal/compositor"
)

// maxSlots bounds the shared-memory buffers in flight per layer: one on
// screen, one being drawn.
const maxSlots = 2

// bufferSlot is one shared-memory buffer, recycled across commits. busy is
// set on commit and cleared by the compositor's wl_buffer.release.
type bufferSlot struct {
	wlBuffer *C.struct_wl_buffer
	data     []byte
	width    int
	height   int
	stride   int
	format   compositor.PixelFormat
	busy     atomic.Bool
	handle   cgo.Handle
}

func (s *bufferSlot) Bytes() []byte                  { return s.data }
func (s *bufferSlot) Stride() int                    { return s.stride }
func (s *bufferSlot) Format() compositor.PixelFormat { return s.format }
func (s *bufferSlot) Size() (int, int)               { return s.width, s.height }

func (s *bufferSlot) destroy() {
	if s.wlBuffer != nil {
		C.wl_buffer_destroy(s.wlBuffer)
		s.wlBuffer = nil
	}
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			log.Debugf("munmap: %v", err)
		}
		s.data = nil
	}
	s.handle.Delete()
}

// surface is one background layer surface and its slot pool.
type surface struct {
	conn       *Conn
	outputName string

	wlSurface *C.struct_wl_surface
	layerSurf *C.struct_zwlr_layer_surface_v1

	configured chan struct{}
	width      int
	height     int
	scale      int

	slots []*bufferSlot
}

func wlFormat(f compositor.PixelFormat) C.uint32_t {
	if f == compositor.FormatXRGB2101010 {
		return C.WL_SHM_FORMAT_XRGB2101010
	}
	return C.WL_SHM_FORMAT_XRGB8888
}

// AcquireBuffer implements compositor.Surface.
func (s *surface) AcquireBuffer(width, height int, format compositor.PixelFormat) (compositor.Buffer, error) {
	// Prefer a free slot that already matches.
	for _, slot := range s.slots {
		if !slot.busy.Load() && slot.width == width && slot.height == height && slot.format == format {
			return slot, nil
		}
	}

	// Replace a free but stale slot.
	for i, slot := range s.slots {
		if !slot.busy.Load() {
			slot.destroy()
			fresh, err := s.newSlot(width, height, format)
			if err != nil {
				s.slots = append(s.slots[:i], s.slots[i+1:]...)
				return nil, err
			}
			s.slots[i] = fresh
			return fresh, nil
		}
	}

	if len(s.slots) < maxSlots {
		slot, err := s.newSlot(width, height, format)
		if err != nil {
			return nil, err
		}
		s.slots = append(s.slots, slot)
		return slot, nil
	}

	return nil, fmt.Errorf("no free buffer slot for %s", s.outputName)
}

func (s *surface) newSlot(width, height int, format compositor.PixelFormat) (*bufferSlot, error) {
	if width <= 0 || height <= 0 || width > math.MaxInt32/compositor.BytesPerPixel {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	stride := width * compositor.BytesPerPixel
	if height > math.MaxInt32/stride {
		return nil, fmt.Errorf("buffer %dx%d too large", width, height)
	}
	size := stride * height

	fd, err := unix.MemfdCreate("driftbg-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	pool := C.wl_shm_create_pool(s.conn.shm, C.int32_t(fd), C.int32_t(size))
	if pool == nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("wl_shm_create_pool failed")
	}
	wlBuffer := C.wl_shm_pool_create_buffer(pool, 0,
		C.int32_t(width), C.int32_t(height), C.int32_t(stride), wlFormat(format))
	C.wl_shm_pool_destroy(pool)
	if wlBuffer == nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("wl_shm_pool_create_buffer failed")
	}

	slot := &bufferSlot{
		wlBuffer: wlBuffer,
		data:     data,
		width:    width,
		height:   height,
		stride:   stride,
		format:   format,
	}
	slot.handle = cgo.NewHandle(slot)
	C.wl_buffer_add_listener(wlBuffer, C.driftbg_buffer_listener(),
		unsafe.Pointer(uintptr(slot.handle)))

	log.Debugf("created %dx%d %v buffer for %s", width, height, format, s.outputName)
	return slot, nil
}

// Commit implements compositor.Surface.
func (s *surface) Commit(buf compositor.Buffer) error {
	slot, ok := buf.(*bufferSlot)
	if !ok {
		return fmt.Errorf("foreign buffer committed to %s", s.outputName)
	}
	if s.wlSurface == nil {
		return fmt.Errorf("surface for %s already destroyed", s.outputName)
	}

	C.wl_surface_attach(s.wlSurface, slot.wlBuffer, 0, 0)
	if s.conn.compositorVersion >= 3 && s.scale > 1 {
		C.wl_surface_set_buffer_scale(s.wlSurface, C.int32_t(s.scale))
	}
	C.wl_surface_damage(s.wlSurface, 0, 0, C.int32_t(math.MaxInt32), C.int32_t(math.MaxInt32))
	C.wl_surface_commit(s.wlSurface)
	C.wl_display_flush(s.conn.display)

	slot.busy.Store(true)
	return nil
}

// SetScale implements compositor.Surface.
func (s *surface) SetScale(scale int) {
	if scale <= 0 {
		scale = 1
	}
	s.scale = scale
}

// Destroy implements compositor.Surface.
func (s *surface) Destroy() {
	s.conn.mu.Lock()
	delete(s.conn.surfaces, s.layerSurf)
	s.destroyLocked()
	s.conn.mu.Unlock()
	s.conn.Flush()
}

// destroyLocked tears down the Wayland objects; the caller holds conn.mu (or
// is the connection teardown itself).
func (s *surface) destroyLocked() {
	for _, slot := range s.slots {
		slot.destroy()
	}
	s.slots = nil

	if s.layerSurf != nil {
		C.zwlr_layer_surface_v1_destroy(s.layerSurf)
		s.layerSurf = nil
	}
	if s.wlSurface != nil {
		C.wl_surface_destroy(s.wlSurface)
		s.wlSurface = nil
	}
}
