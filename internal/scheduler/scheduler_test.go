package scheduler

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestEmptyScheduler(t *testing.T) {
	s := New(clockwork.NewFakeClock())

	if s.Len() != 0 {
		t.Errorf("expected empty, got %d", s.Len())
	}
	if _, ok := s.NextDeadline(); ok {
		t.Error("expected no deadline")
	}
	if ready := s.PopReady(time.Now()); len(ready) != 0 {
		t.Errorf("expected nothing ready, got %v", ready)
	}
}

func TestScheduleAndDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("DP-1", 100*time.Millisecond)

	until, ok := s.NextDeadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if until != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", until)
	}
}

func TestPastDeadlineReportsZero(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("DP-1", 10*time.Millisecond)
	clock.Advance(50 * time.Millisecond)

	until, ok := s.NextDeadline()
	if !ok || until != 0 {
		t.Errorf("expected zero for overdue deadline, got %v (ok=%v)", until, ok)
	}
}

func TestPopReadyDeadlineOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("DP-3", 300*time.Millisecond)
	s.Schedule("DP-1", 100*time.Millisecond)
	s.Schedule("DP-2", 200*time.Millisecond)

	clock.Advance(time.Second)
	ready := s.PopReady(clock.Now())

	want := []string{"DP-1", "DP-2", "DP-3"}
	if len(ready) != len(want) {
		t.Fatalf("expected %v, got %v", want, ready)
	}
	for i := range want {
		if ready[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ready[i])
		}
	}
}

func TestPopReadyRespectsDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("ready", 10*time.Millisecond)
	s.Schedule("not-ready", 10*time.Second)

	clock.Advance(50 * time.Millisecond)
	ready := s.PopReady(clock.Now())

	if len(ready) != 1 || ready[0] != "ready" {
		t.Fatalf("expected [ready], got %v", ready)
	}
	if s.Len() != 1 {
		t.Errorf("expected not-ready entry to survive, len=%d", s.Len())
	}
}

func TestPopReadyConsumesStaleDuplicates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("DP-1", 10*time.Millisecond)
	s.Schedule("DP-1", 20*time.Millisecond)
	s.Schedule("DP-1", 30*time.Millisecond)

	clock.Advance(time.Second)
	ready := s.PopReady(clock.Now())

	if len(ready) != 1 || ready[0] != "DP-1" {
		t.Fatalf("expected single DP-1, got %v", ready)
	}
	if s.Len() != 0 {
		t.Errorf("stale duplicates should be dropped, len=%d", s.Len())
	}
}

func TestInsertionOrderBreaksTies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	at := clock.Now().Add(10 * time.Millisecond)

	s.ScheduleAt("b", at)
	s.ScheduleAt("a", at)
	s.ScheduleAt("c", at)

	clock.Advance(time.Second)
	ready := s.PopReady(clock.Now())

	want := []string{"b", "a", "c"}
	for i := range want {
		if ready[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ready)
		}
	}
}

func TestRemoveOutput(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("keep", 100*time.Millisecond)
	s.Schedule("remove", 100*time.Millisecond)
	s.Schedule("keep", 200*time.Millisecond)
	s.Schedule("remove", 200*time.Millisecond)

	s.RemoveOutput("remove")

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries after removal, got %d", s.Len())
	}

	clock.Advance(time.Second)
	for _, out := range s.PopReady(clock.Now()) {
		if out == "remove" {
			t.Error("removed output must not pop until rescheduled")
		}
	}
}

func TestRescheduleAfterRemove(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("DP-1", 10*time.Millisecond)
	s.RemoveOutput("DP-1")
	s.Schedule("DP-1", 20*time.Millisecond)

	clock.Advance(time.Second)
	ready := s.PopReady(clock.Now())
	if len(ready) != 1 || ready[0] != "DP-1" {
		t.Fatalf("expected rescheduled DP-1 to pop, got %v", ready)
	}
}

func TestLowerDeadlinePopsFirstAcrossCalls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	s.Schedule("X", 50*time.Millisecond)
	s.Schedule("Y", 150*time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	first := s.PopReady(clock.Now())
	if len(first) != 1 || first[0] != "X" {
		t.Fatalf("expected [X] first, got %v", first)
	}

	clock.Advance(100 * time.Millisecond)
	second := s.PopReady(clock.Now())
	if len(second) != 1 || second[0] != "Y" {
		t.Fatalf("expected [Y] second, got %v", second)
	}
}
