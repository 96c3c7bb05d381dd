package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestIngesterFlushesAllKindsOnClose(t *testing.T) {
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()

	if err := InitSchema(database); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	runID, err := CreateRun(database, "ingest-run", RunKindScheduler, time.Now())
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	schedCh := make(chan SchedEvent, 4)
	fsCh := make(chan FSOp, 4)
	pipeCh := make(chan PipelineSample, 4)

	ing := NewIngester(database, runID, schedCh, fsCh, pipeCh, 10, time.Hour, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	schedCh <- SchedEvent{RunID: runID, Tick: 1, ThreadID: 0, Transition: "dispatch", Queue: "L1"}
	pipeCh <- PipelineSample{RunID: runID, Tick: 1, QueueName: "worker", Size: 10, Capacity: 200, WorkerCount: 2}
	close(schedCh)
	close(fsCh)
	close(pipeCh)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ingester error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ingester did not finish after channels closed")
	}

	events, err := SchedEvents(database, runID, 10)
	if err != nil {
		t.Fatalf("sched events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 sched event, got %d", len(events))
	}

	progress := ing.Progress()
	if progress.SchedEvents != 1 || progress.PipelineSamples != 1 {
		t.Fatalf("Progress() = %+v, want SchedEvents=1, PipelineSamples=1", progress)
	}
}

func TestIngesterFlushesOnTicker(t *testing.T) {
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := InitSchema(database); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	runID, _ := CreateRun(database, "tick-run", RunKindFS, time.Now())

	fsCh := make(chan FSOp, 4)
	schedCh := make(chan SchedEvent)
	pipeCh := make(chan PipelineSample)

	ing := NewIngester(database, runID, schedCh, fsCh, pipeCh, 100, 20*time.Millisecond, false)
	ctx, cancel := context.WithCancel(context.Background())
	go ing.Run(ctx)

	fsCh <- FSOp{RunID: runID, Tick: 1, Op: "create", Path: "/x", Result: "ok"}

	time.Sleep(100 * time.Millisecond)
	ops, err := FSOps(database, runID, 10)
	if err != nil {
		t.Fatalf("fs ops: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected the ticker to flush a batched row, got %d rows", len(ops))
	}
	cancel()
}
