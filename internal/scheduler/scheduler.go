// Package scheduler coordinates frame deadlines across outputs. A min-heap of
// (deadline, output, insertion id) lets the orchestrator arm a single timer
// for the earliest deadline and drain everything due when it fires.
package scheduler

import (
	"container/heap"
	"time"

	"github.com/jonboulle/clockwork"
)

type scheduledFrame struct {
	output   string
	deadline time.Time
	id       uint64
}

type frameHeap []scheduledFrame

func (h frameHeap) Len() int { return len(h) }

func (h frameHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	// Insertion order breaks ties so pops are deterministic.
	return h[i].id < h[j].id
}

func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frameHeap) Push(x any) { *h = append(*h, x.(scheduledFrame)) }

func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	frame := old[n-1]
	*h = old[:n-1]
	return frame
}

// Scheduler tracks per-output frame deadlines. It is not safe for concurrent
// use; the orchestrator owns it on the event thread.
type Scheduler struct {
	clock  clockwork.Clock
	queue  frameHeap
	nextID uint64
}

// New creates a scheduler on the given clock. Production passes
// clockwork.NewRealClock(); tests pass a fake.
func New(clock clockwork.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Schedule inserts a deadline for output after d. Duplicate entries for the
// same output are allowed; only the earliest governs.
func (s *Scheduler) Schedule(output string, d time.Duration) {
	s.ScheduleAt(output, s.clock.Now().Add(d))
}

// ScheduleAt inserts a deadline for output at an absolute instant.
func (s *Scheduler) ScheduleAt(output string, at time.Time) {
	s.nextID++
	heap.Push(&s.queue, scheduledFrame{output: output, deadline: at, id: s.nextID})
}

// RemoveOutput drops every entry for output. Used when an output detaches or
// its wallpaper changes source.
func (s *Scheduler) RemoveOutput(output string) {
	kept := s.queue[:0]
	for _, f := range s.queue {
		if f.output != output {
			kept = append(kept, f)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
}

// NextDeadline returns the duration until the earliest deadline. The second
// return is false when nothing is scheduled. Past deadlines report zero.
func (s *Scheduler) NextDeadline() (time.Duration, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	until := s.queue[0].deadline.Sub(s.clock.Now())
	if until < 0 {
		until = 0
	}
	return until, true
}

// PopReady returns the distinct outputs whose earliest entry is due at now,
// in deadline order. For each such output only the earliest entry is
// consumed; later entries that are also due are dropped as stale.
func (s *Scheduler) PopReady(now time.Time) []string {
	var ready []string
	seen := map[string]bool{}

	for len(s.queue) > 0 && !s.queue[0].deadline.After(now) {
		frame := heap.Pop(&s.queue).(scheduledFrame)
		if seen[frame.output] {
			continue
		}
		seen[frame.output] = true
		ready = append(ready, frame.output)
	}
	return ready
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Clear drops all scheduled entries.
func (s *Scheduler) Clear() {
	s.queue = s.queue[:0]
}
