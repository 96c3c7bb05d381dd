package tui

import (
	"testing"

	"github.com/nsimlab/nsim/internal/store"
)

func TestQueueDepthHeadline(t *testing.T) {
	events := []store.SchedEvent{
		{Queue: "L1"}, {Queue: "L1"}, {Queue: "L2"}, {Queue: "L3"}, {Queue: "L3"}, {Queue: "L3"},
	}
	got := queueDepthHeadline(events)
	want := "L1: 2  L2: 1  L3: 3"
	if got != want {
		t.Fatalf("queueDepthHeadline() = %q, want %q", got, want)
	}
}

func TestApplyFilterNarrowsRows(t *testing.T) {
	m := &Model{}
	m.setRows([]row{
		{tick: 1, cols: []string{"1"}, summary: "dispatch L1"},
		{tick: 2, cols: []string{"2"}, summary: "ready L2"},
	})
	m.filter = "l1"
	m.applyFilter()
	if len(m.rows) != 1 || m.rows[0].tick != 1 {
		t.Fatalf("applyFilter() left rows = %+v, want only tick 1", m.rows)
	}
}

func TestApplyFilterResetsCursorWhenOutOfRange(t *testing.T) {
	m := &Model{cursor: 5}
	m.setRows([]row{{tick: 1, summary: "a"}})
	if m.cursor != 0 {
		t.Fatalf("cursor = %d, want reset to 0", m.cursor)
	}
}

func TestPipelineFillHeadline(t *testing.T) {
	samples := []store.PipelineSample{
		{QueueName: "worker", Size: 50, Capacity: 200, WorkerCount: 3},
		{QueueName: "worker", Size: 100, Capacity: 200, WorkerCount: 4},
	}
	got := pipelineFillHeadline(samples)
	want := "worker: 100/200 (50%) w=4"
	if got != want {
		t.Fatalf("pipelineFillHeadline() = %q, want %q", got, want)
	}
}
