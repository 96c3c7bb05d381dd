package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := InitSchema(database); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return database
}

func TestCreateRunAndLookup(t *testing.T) {
	database := newTestDB(t)

	id, err := CreateRun(database, "11111111-1111-1111-1111-111111111111", RunKindScheduler, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	byUUID, err := RunByUUID(database, "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("run by uuid: %v", err)
	}
	if byUUID == nil || byUUID.ID != id {
		t.Fatalf("RunByUUID = %+v, want id %d", byUUID, id)
	}
	if byUUID.Kind != RunKindScheduler {
		t.Fatalf("Kind = %q, want %q", byUUID.Kind, RunKindScheduler)
	}

	// second lookup should hit the run cache, not just the table
	cached, err := RunByUUID(database, "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("cached run by uuid: %v", err)
	}
	if cached == nil || cached.ID != id {
		t.Fatalf("cached RunByUUID = %+v, want id %d", cached, id)
	}
}

func TestRunByUUIDMissing(t *testing.T) {
	database := newTestDB(t)
	r, err := RunByUUID(database, "does-not-exist")
	if err != nil {
		t.Fatalf("run by uuid: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil for missing run, got %+v", r)
	}
}

func TestFinishRunSetsEndTime(t *testing.T) {
	database := newTestDB(t)
	id, err := CreateRun(database, "run-a", RunKindFS, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := FinishRun(database, id, time.Unix(2000, 0)); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	r, err := RunByUUID(database, "run-a")
	if err != nil {
		t.Fatalf("run by uuid: %v", err)
	}
	if r.EndTime.Unix() != 2000 {
		t.Fatalf("EndTime = %v, want unix 2000", r.EndTime)
	}
}

func TestLatestRunOrdersByStartTime(t *testing.T) {
	database := newTestDB(t)
	if _, err := CreateRun(database, "older", RunKindPipeline, time.Unix(100, 0)); err != nil {
		t.Fatalf("create older run: %v", err)
	}
	newer, err := CreateRun(database, "newer", RunKindPipeline, time.Unix(200, 0))
	if err != nil {
		t.Fatalf("create newer run: %v", err)
	}

	latest, err := LatestRun(database)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest == nil || latest.ID != newer {
		t.Fatalf("LatestRun = %+v, want id %d", latest, newer)
	}
}

func TestSchedEventsOrderedByTick(t *testing.T) {
	database := newTestDB(t)
	runID, _ := CreateRun(database, "sched-run", RunKindScheduler, time.Now())

	for _, e := range []SchedEvent{
		{RunID: runID, Tick: 30, ThreadID: 1, Transition: "dispatch", Queue: "L1"},
		{RunID: runID, Tick: 10, ThreadID: 2, Transition: "ready", Queue: "L2"},
	} {
		_, err := database.Exec(`INSERT INTO sched_events (run_id, tick, thread_id, transition, queue) VALUES (?, ?, ?, ?, ?)`,
			e.RunID, e.Tick, e.ThreadID, e.Transition, e.Queue)
		if err != nil {
			t.Fatalf("insert sched_event: %v", err)
		}
	}

	events, err := SchedEvents(database, runID, 10)
	if err != nil {
		t.Fatalf("sched events: %v", err)
	}
	if len(events) != 2 || events[0].Tick != 10 || events[1].Tick != 30 {
		t.Fatalf("SchedEvents = %+v, want ticks [10, 30]", events)
	}
}

func TestFSOpsAndPipelineSamplesRoundTrip(t *testing.T) {
	database := newTestDB(t)
	runID, _ := CreateRun(database, "fs-run", RunKindFS, time.Now())

	_, err := database.Exec(`INSERT INTO fs_ops (run_id, tick, op, path, result) VALUES (?, ?, ?, ?, ?)`,
		runID, 5, "create", "/a/b.txt", "ok")
	if err != nil {
		t.Fatalf("insert fs_op: %v", err)
	}
	_, err = database.Exec(`INSERT INTO pipeline_samples (run_id, tick, queue_name, size, capacity, worker_count) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, 5, "worker", 40, 200, 3)
	if err != nil {
		t.Fatalf("insert pipeline_sample: %v", err)
	}

	ops, err := FSOps(database, runID, 10)
	if err != nil {
		t.Fatalf("fs ops: %v", err)
	}
	if len(ops) != 1 || ops[0].Path != "/a/b.txt" {
		t.Fatalf("FSOps = %+v", ops)
	}

	samples, err := PipelineSamples(database, runID, 10)
	if err != nil {
		t.Fatalf("pipeline samples: %v", err)
	}
	if len(samples) != 1 || samples[0].QueueName != "worker" || samples[0].WorkerCount != 3 {
		t.Fatalf("PipelineSamples = %+v", samples)
	}
}
