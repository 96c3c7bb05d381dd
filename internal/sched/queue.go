package sched

import "github.com/nsimlab/nsim/internal/thread"

// variant picks the ordering a ready queue maintains. A small enum
// rather than a callback-carrying generic sorted list, per the Design
// Notes' "duck-typed sorted list comparator" guidance — there are only
// ever three shapes and none of them need a user-supplied comparator.
type variant int

const (
	variantSRTF variant = iota
	variantPriorityDesc
	variantFIFO
)

// readyQueue is an insertion-ordered or insertion-sorted slice of
// threads. L1 and L2 keep themselves sorted on Insert; L3 is a plain
// FIFO append.
type readyQueue struct {
	kind  variant
	items []*thread.ControlBlock
}

func newReadyQueue(kind variant) *readyQueue {
	return &readyQueue{kind: kind}
}

// less reports whether a sorts before b under this queue's ordering.
func (q *readyQueue) less(a, b *thread.ControlBlock) bool {
	switch q.kind {
	case variantSRTF:
		if a.RemBurst != b.RemBurst {
			return a.RemBurst < b.RemBurst
		}
		return a.ID < b.ID
	case variantPriorityDesc:
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	default: // FIFO: no reordering on insert
		return false
	}
}

// Insert adds t in sorted position (L1/L2) or at the tail (L3).
func (q *readyQueue) Insert(t *thread.ControlBlock) {
	if q.kind == variantFIFO {
		q.items = append(q.items, t)
		return
	}
	i := 0
	for i < len(q.items) && !q.less(t, q.items[i]) {
		i++
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
}

// IsEmpty reports whether the queue holds no threads.
func (q *readyQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Front returns the head thread without removing it, or nil.
func (q *readyQueue) Front() *thread.ControlBlock {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// RemoveFront removes and returns the head thread, or nil if empty.
func (q *readyQueue) RemoveFront() *thread.ControlBlock {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

// Items returns the queue's threads in queue order, for aging sweeps.
// The caller must not mutate the returned slice.
func (q *readyQueue) Items() []*thread.ControlBlock {
	return q.items
}

// Len reports the number of threads currently resident.
func (q *readyQueue) Len() int {
	return len(q.items)
}
