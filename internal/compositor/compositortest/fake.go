// Package compositortest provides an in-memory compositor.Conn for exercising
// the rendering core without a display server.
package compositortest

import (
	"fmt"
	"sync"

	"github.com/driftbg/driftbg/internal/compositor"
)

// Buffer is a plain in-memory buffer slot.
type Buffer struct {
	Data      []byte
	RowStride int
	Fmt       compositor.PixelFormat
	W, H      int
}

func (b *Buffer) Bytes() []byte                  { return b.Data }
func (b *Buffer) Stride() int                    { return b.RowStride }
func (b *Buffer) Format() compositor.PixelFormat { return b.Fmt }
func (b *Buffer) Size() (int, int)               { return b.W, b.H }

// Commit is one recorded surface commit.
type Commit struct {
	Output string
	Buffer *Buffer
}

// Surface records commits instead of talking to a compositor.
type Surface struct {
	conn      *Conn
	output    string
	scale     int
	destroyed bool
}

func (s *Surface) AcquireBuffer(width, height int, format compositor.PixelFormat) (compositor.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	return &Buffer{
		Data:      make([]byte, width*height*compositor.BytesPerPixel),
		RowStride: width * compositor.BytesPerPixel,
		Fmt:       format,
		W:         width,
		H:         height,
	}, nil
}

func (s *Surface) Commit(buf compositor.Buffer) error {
	fb, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("foreign buffer")
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.destroyed {
		return fmt.Errorf("commit on destroyed surface")
	}
	s.conn.Commits = append(s.conn.Commits, Commit{Output: s.output, Buffer: fb})
	return nil
}

func (s *Surface) SetScale(scale int) { s.scale = scale }

func (s *Surface) Destroy() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.destroyed = true
	delete(s.conn.surfaces, s.output)
}

// Conn is the fake connection. Tests drive it by adding outputs and pushing
// events, then inspect recorded commits.
type Conn struct {
	mu       sync.Mutex
	outputs  map[string]compositor.Output
	surfaces map[string]*Surface
	events   chan compositor.Event

	// Commits records every buffer commit in order.
	Commits []Commit
}

// New creates a fake connection with no outputs.
func New() *Conn {
	return &Conn{
		outputs:  map[string]compositor.Output{},
		surfaces: map[string]*Surface{},
		events:   make(chan compositor.Event, 64),
	}
}

// AddOutput registers an output and queues its added event.
func (c *Conn) AddOutput(out compositor.Output) {
	c.mu.Lock()
	c.outputs[out.Name] = out
	c.mu.Unlock()
	c.events <- compositor.Event{Kind: compositor.EventOutputAdded, Output: out}
}

// RemoveOutput drops an output and queues its removed event.
func (c *Conn) RemoveOutput(name string) {
	c.mu.Lock()
	out := c.outputs[name]
	delete(c.outputs, name)
	c.mu.Unlock()
	c.events <- compositor.Event{Kind: compositor.EventOutputRemoved, Output: out}
}

// PushEvent queues an arbitrary event, updating the stored output state.
func (c *Conn) PushEvent(ev compositor.Event) {
	c.mu.Lock()
	if _, ok := c.outputs[ev.Output.Name]; ok {
		c.outputs[ev.Output.Name] = ev.Output
	}
	c.mu.Unlock()
	c.events <- ev
}

func (c *Conn) Events() <-chan compositor.Event { return c.events }

func (c *Conn) Outputs() []compositor.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	var outs []compositor.Output
	for _, out := range c.outputs {
		outs = append(outs, out)
	}
	return outs
}

func (c *Conn) CreateSurface(output string) (compositor.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outputs[output]; !ok {
		return nil, fmt.Errorf("unknown output %q", output)
	}
	s := &Surface{conn: c, output: output, scale: 1}
	c.surfaces[output] = s
	return s, nil
}

func (c *Conn) Flush() {}

func (c *Conn) Close() {}

// CommitsFor filters recorded commits by output.
func (c *Conn) CommitsFor(output string) []Commit {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Commit
	for _, commit := range c.Commits {
		if commit.Output == output {
			out = append(out, commit)
		}
	}
	return out
}

// HasSurface reports whether a live surface exists for output.
func (c *Conn) HasSurface(output string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.surfaces[output]
	return ok
}
