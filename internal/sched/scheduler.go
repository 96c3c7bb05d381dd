// Package sched implements the three-level MLFQ/SRTF scheduler: an
// SRTF level for high-priority threads, a priority-ordered level below
// it, and a round-robin FIFO level at the bottom, with periodic
// priority aging and two distinct preemption checks.
package sched

import (
	"fmt"
	"os"

	"github.com/nsimlab/nsim/internal/thread"
	"github.com/nsimlab/nsim/internal/tick"
)

// Switcher performs the context switch once the scheduler has decided
// which thread runs next. Tests supply a fake; a real simulation
// supplies something that actually saves/restores simulated register
// state.
type Switcher interface {
	SWITCH(from, to *thread.ControlBlock)
}

// Trace, when true, prints one line per scheduler decision to stderr,
// matching the verbose tracing idiom used elsewhere in this module.
var Trace = false

func trace(format string, args ...interface{}) {
	if Trace {
		fmt.Fprintf(os.Stderr, "[sched] "+format+"\n", args...)
	}
}

// Scheduler owns the three ready queues and the currently running
// thread. It assumes interrupts are already disabled by the caller for
// any method that touches queue state — mirroring the original
// kernel's ASSERT(interrupt->getLevel() == IntOff) discipline — via
// tick.Source.CriticalSection.
type Scheduler struct {
	clock *tick.Source
	cfg   *Config

	l1 *readyQueue // SRTF
	l2 *readyQueue // priority descending
	l3 *readyQueue // FIFO

	current       *thread.ControlBlock
	toBeDestroyed *thread.ControlBlock
}

// New returns a Scheduler driven by clock and tuned by cfg. A nil cfg
// is replaced with DefaultConfig().
func New(clock *tick.Source, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		clock: clock,
		cfg:   cfg,
		l1:    newReadyQueue(variantSRTF),
		l2:    newReadyQueue(variantPriorityDesc),
		l3:    newReadyQueue(variantFIFO),
	}
}

// Current returns the currently running thread, or nil.
func (s *Scheduler) Current() *thread.ControlBlock {
	return s.current
}

func (s *Scheduler) queueFor(level int) *readyQueue {
	switch level {
	case 1:
		return s.l1
	case 2:
		return s.l2
	default:
		return s.l3
	}
}

// ReadyToRun admits t into the ready queue matching its current
// priority and records the burst-estimator transition into READY. t
// must not already be queued.
func (s *Scheduler) ReadyToRun(t *thread.ControlBlock) {
	now := s.clock.Now()
	switch t.Status {
	case thread.JustCreated:
		t.EnterFirstReady(now)
	case thread.Running:
		t.EnterReadyFromRunning(now)
	case thread.Blocked:
		t.Status = thread.Ready
		t.TSReady = now
	default:
		t.Status = thread.Ready
		t.TSReady = now
	}
	level := thread.Level(t.Priority)
	t.InWhichQueue = level
	s.queueFor(level).Insert(t)
	trace("ready_to_run id=%d name=%q level=%d priority=%d", t.ID, t.Name, level, t.Priority)
}

// FindNextToRun removes and returns the highest-priority runnable
// thread across L1, L2, L3 in that order, or nil if all are empty.
func (s *Scheduler) FindNextToRun() *thread.ControlBlock {
	for _, q := range []*readyQueue{s.l1, s.l2, s.l3} {
		if !q.IsEmpty() {
			t := q.RemoveFront()
			t.InWhichQueue = 0
			return t
		}
	}
	return nil
}

// Run switches execution to next. If finishing is true the currently
// running thread is retired rather than re-admitted to a ready queue:
// Run sets its ToBeDestroyed flag and releases it once next has been
// installed and the switch has been made.
func (s *Scheduler) Run(next *thread.ControlBlock, finishing bool) {
	prev := s.current
	if finishing && prev != nil {
		prev.ToBeDestroyed = true
		s.toBeDestroyed = prev
	}

	next.EnterRunning(s.clock.Now())
	s.current = next
	trace("run id=%d name=%q finishing=%v", next.ID, next.Name, finishing)
	if s.cfg.Switcher != nil {
		s.cfg.Switcher.SWITCH(prev, next)
	}
	s.CheckToBeDestroyed()
}

// CheckToBeDestroyed releases the thread Run marked for destruction,
// if any. Run calls it only after the switch to the next thread,
// because the original kernel cannot free the stack a thread is still
// running on until the switch away from it completes.
func (s *Scheduler) CheckToBeDestroyed() {
	if s.toBeDestroyed == nil {
		return
	}
	s.toBeDestroyed.Status = thread.Zombie
	trace("destroyed id=%d name=%q", s.toBeDestroyed.ID, s.toBeDestroyed.Name)
	s.toBeDestroyed = nil
}

// Aging sweeps every READY thread; any that have waited at least
// AgingInterval ticks get their priority bumped by AgingBoost. Bumped
// threads may move to a higher queue level, so all three queues are
// rebuilt from scratch afterward rather than patched in place — per
// the Design Notes, repairing sort order in place after a bulk
// priority change is more error-prone than a full rebuild for queues
// this small.
//
// Aging returns true if any thread's priority changed, in which case
// the queues were rebuilt and an immediate preemption check is
// warranted; it returns false, leaving the queues untouched, otherwise.
func (s *Scheduler) Aging() bool {
	now := s.clock.Now()
	changed := false
	all := append(append(append([]*thread.ControlBlock{}, s.l1.Items()...), s.l2.Items()...), s.l3.Items()...)

	for _, t := range all {
		if now-t.TSReady >= s.cfg.AgingInterval {
			before := t.Priority
			t.Bump()
			t.TSReady = now
			if t.Priority != before {
				changed = true
				trace("aged id=%d name=%q priority=%d->%d", t.ID, t.Name, before, t.Priority)
			}
		}
	}

	if !changed {
		return false
	}

	s.l1 = newReadyQueue(variantSRTF)
	s.l2 = newReadyQueue(variantPriorityDesc)
	s.l3 = newReadyQueue(variantFIFO)
	for _, t := range all {
		level := thread.Level(t.Priority)
		t.InWhichQueue = level
		s.queueFor(level).Insert(t)
	}
	return true
}

// CheckYield reports whether current has exhausted its L3 time slice
// and must yield to the FIFO round robin. Only meaningful when current
// is running out of L3; callers should not call this for L1/L2
// threads, which are governed by ShouldPreempt instead.
func (s *Scheduler) CheckYield(current *thread.ControlBlock) bool {
	if current == nil || thread.Level(current.Priority) != 3 {
		return false
	}
	return s.clock.Now()-current.TSRunning >= s.cfg.L3TimeSlice
}

// ShouldPreempt reports whether the currently running thread must be
// preempted right now, combining the two checks the original scheduler
// keeps separate:
//
//   - cross-queue preemption: a non-empty ready queue at a strictly
//     higher level than current's exists (an L2 thread preempts an L3
//     runner; an L1 thread preempts an L2 or L3 runner).
//   - intra-L1 SRTF preemption: current is itself running out of L1 and
//     L1's head has a strictly smaller remaining burst, or an equal
//     remaining burst and a smaller ID (the original's precise
//     tie-break, preferring the lower thread ID).
func (s *Scheduler) ShouldPreempt(current *thread.ControlBlock) bool {
	if current == nil {
		return false
	}
	level := thread.Level(current.Priority)

	if level > 1 && !s.l1.IsEmpty() {
		return true
	}
	if level > 2 && !s.l2.IsEmpty() {
		return true
	}

	if level == 1 {
		head := s.l1.Front()
		if head == nil {
			return false
		}
		cRem := current.RemainingBurst(s.clock.Now())
		hRem := head.RemBurst
		if cRem > hRem {
			return true
		}
		if cRem == hRem && current.ID > head.ID {
			return true
		}
	}

	return false
}
