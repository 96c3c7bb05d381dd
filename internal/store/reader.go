package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun inserts a new run row and returns its id.
func CreateRun(db *sql.DB, uuid string, kind RunKind, start time.Time) (int64, error) {
	res, err := db.Exec(`INSERT INTO runs (uuid, kind, start_time) VALUES (?, ?, ?)`, uuid, string(kind), start.Unix())
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun records a run's completion time.
func FinishRun(db *sql.DB, runID int64, end time.Time) error {
	_, err := db.Exec(`UPDATE runs SET end_time = ? WHERE id = ?`, end.Unix(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RunByUUID resolves a run's id from its uuid, using the package-level
// LRU cache to avoid re-querying for repeat lookups of the same run
// (e.g. a TUI session paging through one run's events).
func RunByUUID(db *sql.DB, uuid string) (*Run, error) {
	if id, ok := getRunCache(db).Get(uuid); ok {
		return runByID(db, id)
	}
	var r Run
	var startTime int64
	var endTime sql.NullInt64
	var kind string
	err := db.QueryRow(`SELECT id, uuid, kind, start_time, end_time, notes FROM runs WHERE uuid = ?`, uuid).
		Scan(&r.ID, &r.UUID, &kind, &startTime, &endTime, &r.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run by uuid: %w", err)
	}
	r.Kind = RunKind(kind)
	r.StartTime = time.Unix(startTime, 0)
	if endTime.Valid {
		r.EndTime = time.Unix(endTime.Int64, 0)
	}
	getRunCache(db).Set(uuid, r.ID)
	return &r, nil
}

func runByID(db *sql.DB, id int64) (*Run, error) {
	var r Run
	var startTime int64
	var endTime sql.NullInt64
	var kind string
	err := db.QueryRow(`SELECT id, uuid, kind, start_time, end_time, notes FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.UUID, &kind, &startTime, &endTime, &r.Notes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run by id: %w", err)
	}
	r.Kind = RunKind(kind)
	r.StartTime = time.Unix(startTime, 0)
	if endTime.Valid {
		r.EndTime = time.Unix(endTime.Int64, 0)
	}
	return &r, nil
}

// LatestRun returns the most recently started run, or nil if none exist.
func LatestRun(db *sql.DB) (*Run, error) {
	var id int64
	err := db.QueryRow(`SELECT id FROM runs ORDER BY start_time DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return runByID(db, id)
}

// SchedEvents loads up to limit sched_events rows for a run, ordered by tick.
func SchedEvents(db *sql.DB, runID int64, limit int) ([]SchedEvent, error) {
	rows, err := db.Query(`SELECT run_id, tick, thread_id, transition, queue FROM sched_events WHERE run_id = ? ORDER BY tick ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sched_events: %w", err)
	}
	defer rows.Close()

	var out []SchedEvent
	for rows.Next() {
		var e SchedEvent
		if err := rows.Scan(&e.RunID, &e.Tick, &e.ThreadID, &e.Transition, &e.Queue); err != nil {
			return nil, fmt.Errorf("scan sched_event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FSOps loads up to limit fs_ops rows for a run, ordered by tick.
func FSOps(db *sql.DB, runID int64, limit int) ([]FSOp, error) {
	rows, err := db.Query(`SELECT run_id, tick, op, path, result FROM fs_ops WHERE run_id = ? ORDER BY tick ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fs_ops: %w", err)
	}
	defer rows.Close()

	var out []FSOp
	for rows.Next() {
		var e FSOp
		if err := rows.Scan(&e.RunID, &e.Tick, &e.Op, &e.Path, &e.Result); err != nil {
			return nil, fmt.Errorf("scan fs_op: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PipelineSamples loads up to limit pipeline_samples rows for a run, ordered by tick.
func PipelineSamples(db *sql.DB, runID int64, limit int) ([]PipelineSample, error) {
	rows, err := db.Query(`SELECT run_id, tick, queue_name, size, capacity, worker_count FROM pipeline_samples WHERE run_id = ? ORDER BY tick ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_samples: %w", err)
	}
	defer rows.Close()

	var out []PipelineSample
	for rows.Next() {
		var e PipelineSample
		if err := rows.Scan(&e.RunID, &e.Tick, &e.QueueName, &e.Size, &e.Capacity, &e.WorkerCount); err != nil {
			return nil, fmt.Errorf("scan pipeline_sample: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
