package sched

import (
	"testing"

	"github.com/nsimlab/nsim/internal/thread"
	"github.com/nsimlab/nsim/internal/tick"
)

type fakeSwitcher struct {
	switches [][2]int
}

func (f *fakeSwitcher) SWITCH(from, to *thread.ControlBlock) {
	fromID, toID := -1, -1
	if from != nil {
		fromID = from.ID
	}
	if to != nil {
		toID = to.ID
	}
	f.switches = append(f.switches, [2]int{fromID, toID})
}

func newTestScheduler() (*Scheduler, *tick.Source, *fakeSwitcher) {
	clock := tick.NewSource()
	sw := &fakeSwitcher{}
	return New(clock, DefaultConfig().WithSwitcher(sw)), clock, sw
}

func TestFindNextToRunOrdersByLevel(t *testing.T) {
	s, _, _ := newTestScheduler()

	l3 := thread.New(1, "l3", 10, 0.5)
	l2 := thread.New(2, "l2", 60, 0.5)
	l1 := thread.New(3, "l1", 120, 0.5)

	s.ReadyToRun(l3)
	s.ReadyToRun(l2)
	s.ReadyToRun(l1)

	next := s.FindNextToRun()
	if next != l1 {
		t.Fatalf("FindNextToRun() = %v, want l1 thread", next.Name)
	}
	next = s.FindNextToRun()
	if next != l2 {
		t.Fatalf("FindNextToRun() = %v, want l2 thread", next.Name)
	}
	next = s.FindNextToRun()
	if next != l3 {
		t.Fatalf("FindNextToRun() = %v, want l3 thread", next.Name)
	}
	if s.FindNextToRun() != nil {
		t.Fatal("FindNextToRun() on empty scheduler returned non-nil")
	}
}

func TestL1OrdersBySRTFThenID(t *testing.T) {
	s, _, _ := newTestScheduler()

	a := thread.New(1, "a", 120, 0.5)
	a.RemBurst = 10
	b := thread.New(2, "b", 120, 0.5)
	b.RemBurst = 5
	c := thread.New(3, "c", 120, 0.5)
	c.RemBurst = 5 // ties with b; lower ID wins

	// Admit from Blocked: a JustCreated admission would reset RemBurst
	// to 0 and discard the values set above.
	for _, th := range []*thread.ControlBlock{a, b, c} {
		th.Status = thread.Blocked
		s.ReadyToRun(th)
	}

	order := []string{}
	for {
		n := s.FindNextToRun()
		if n == nil {
			break
		}
		order = append(order, n.Name)
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestAgingPromotesAcrossLevels(t *testing.T) {
	s, clock, _ := newTestScheduler()

	t3 := thread.New(1, "t3", 49, 0.5) // L3
	s.ReadyToRun(t3)

	if changed := s.Aging(); changed {
		t.Fatal("Aging() reported a change at tick 0")
	}

	clock.Advance(thread.AgingInterval)
	if changed := s.Aging(); !changed {
		t.Fatal("Aging() reported no change after AgingInterval ticks")
	}
	if t3.Priority != 59 {
		t.Fatalf("priority after one aging pass = %d, want 59", t3.Priority)
	}
	if t3.InWhichQueue != 2 {
		t.Fatalf("InWhichQueue = %d, want 2 after crossing L2Threshold", t3.InWhichQueue)
	}

	// Five more bumps of +10 cross the L1Threshold (100):
	// 59 -> 69 -> 79 -> 89 -> 99 -> 109.
	for i := 0; i < 5; i++ {
		clock.Advance(thread.AgingInterval)
		s.Aging()
	}
	if t3.Priority != 109 {
		t.Fatalf("priority after six aging passes = %d, want 109", t3.Priority)
	}
	if t3.InWhichQueue != 1 {
		t.Fatalf("InWhichQueue = %d, want 1 after crossing L1Threshold", t3.InWhichQueue)
	}
}

func TestShouldPreemptCrossQueue(t *testing.T) {
	s, _, _ := newTestScheduler()

	running := thread.New(1, "running", 40, 0.5) // L3
	running.Status = thread.Running

	if s.ShouldPreempt(running) {
		t.Fatal("ShouldPreempt true with empty higher queues")
	}

	higher := thread.New(2, "higher", 70, 0.5) // L2
	s.ReadyToRun(higher)

	if !s.ShouldPreempt(running) {
		t.Fatal("ShouldPreempt false with a non-empty L2 against an L3 runner")
	}
}

func TestShouldPreemptSRTFTieBreak(t *testing.T) {
	s, clock, _ := newTestScheduler()

	running := thread.New(5, "running", 120, 0.5)
	running.CurrBurst = 20
	running.Status = thread.Running
	running.TSRunning = 0

	head := thread.New(2, "head", 120, 0.5)
	head.RemBurst = 20 // tie on remaining burst; head has the lower ID
	s.l1.Insert(head)

	clock.Advance(0) // current has used 0 ticks; remaining == CurrBurst == 20, tie

	if !s.ShouldPreempt(running) {
		t.Fatal("ShouldPreempt false on a tie where head has a lower ID")
	}

	// Reverse the ID relationship: now running has the lower ID, so an
	// exact tie must NOT preempt.
	running2 := thread.New(1, "running2", 120, 0.5)
	running2.CurrBurst = 20
	running2.Status = thread.Running
	running2.TSRunning = 0

	if s.ShouldPreempt(running2) {
		t.Fatal("ShouldPreempt true on a tie where the runner already has the lower ID")
	}
}

func TestRunInvokesSwitcherAndRetiresFinisher(t *testing.T) {
	s, _, sw := newTestScheduler()

	a := thread.New(1, "a", 120, 0.5)
	a.Status = thread.JustCreated
	s.ReadyToRun(a)
	first := s.FindNextToRun()
	s.Run(first, false)

	b := thread.New(2, "b", 120, 0.5)
	b.Status = thread.JustCreated
	s.ReadyToRun(b)
	second := s.FindNextToRun()
	s.Run(second, true)

	if len(sw.switches) != 2 {
		t.Fatalf("got %d switches, want 2", len(sw.switches))
	}
	if sw.switches[1] != [2]int{1, 2} {
		t.Fatalf("second switch = %v, want [1 2]", sw.switches[1])
	}
	if a.Status != thread.Zombie {
		t.Fatalf("finishing thread status = %v, want Zombie", a.Status)
	}
}

func TestCheckYield(t *testing.T) {
	s, clock, _ := newTestScheduler()
	t3 := thread.New(1, "t3", 10, 0.5)
	t3.Status = thread.JustCreated
	s.ReadyToRun(t3)
	next := s.FindNextToRun()
	s.Run(next, false)

	if s.CheckYield(next) {
		t.Fatal("CheckYield true immediately after dispatch")
	}
	clock.Advance(thread.L3TimeSlice)
	if !s.CheckYield(next) {
		t.Fatal("CheckYield false after a full L3 time slice elapsed")
	}
}
