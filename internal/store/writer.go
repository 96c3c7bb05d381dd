package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

const insertSchedEventSQL = `INSERT INTO sched_events (run_id, tick, thread_id, transition, queue) VALUES (?, ?, ?, ?, ?)`
const insertFSOpSQL = `INSERT INTO fs_ops (run_id, tick, op, path, result) VALUES (?, ?, ?, ?, ?)`
const insertPipelineSampleSQL = `INSERT INTO pipeline_samples (run_id, tick, queue_name, size, capacity, worker_count) VALUES (?, ?, ?, ?, ?, ?)`

// Ingester batches trace rows from a running simulation and writes
// them to the database.
type Ingester struct {
	db       *sql.DB
	schedCh  <-chan SchedEvent
	fsCh     <-chan FSOp
	pipeCh   <-chan PipelineSample
	runID    int64
	batch    int
	flushDur time.Duration
	debug    bool

	schedBatch []SchedEvent
	fsBatch    []FSOp
	pipeBatch  []PipelineSample

	schedStmt *sql.Stmt
	fsStmt    *sql.Stmt
	pipeStmt  *sql.Stmt

	schedCount int64
	fsCount    int64
	pipeCount  int64
}

// Progress reports how many rows of each kind have been ingested so far.
type Progress struct {
	SchedEvents     int64
	FSOps           int64
	PipelineSamples int64
}

// NewIngester creates an ingester bound to one run's rows.
func NewIngester(db *sql.DB, runID int64, schedCh <-chan SchedEvent, fsCh <-chan FSOp, pipeCh <-chan PipelineSample, batchSize int, flushInterval time.Duration, debug bool) *Ingester {
	return &Ingester{
		db:         db,
		runID:      runID,
		schedCh:    schedCh,
		fsCh:       fsCh,
		pipeCh:     pipeCh,
		batch:      batchSize,
		flushDur:   flushInterval,
		debug:      debug,
		schedBatch: make([]SchedEvent, 0, batchSize),
		fsBatch:    make([]FSOp, 0, batchSize),
		pipeBatch:  make([]PipelineSample, 0, batchSize),
	}
}

// Run consumes rows from the channels and batches them to the
// database, returning once every channel has been closed and drained.
func (ing *Ingester) Run(ctx context.Context) error {
	var err error
	ing.schedStmt, err = ing.db.Prepare(insertSchedEventSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare sched_events statement: %w", err)
	}
	defer ing.schedStmt.Close()

	ing.fsStmt, err = ing.db.Prepare(insertFSOpSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare fs_ops statement: %w", err)
	}
	defer ing.fsStmt.Close()

	ing.pipeStmt, err = ing.db.Prepare(insertPipelineSampleSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare pipeline_samples statement: %w", err)
	}
	defer ing.pipeStmt.Close()

	ticker := time.NewTicker(ing.flushDur)
	defer ticker.Stop()

	if ing.debug {
		fmt.Fprintf(os.Stderr, "[INGESTER] STARTED run_id=%d batchSize=%d flushInterval=%v\n", ing.runID, ing.batch, ing.flushDur)
	}

	schedCh := ing.schedCh
	fsCh := ing.fsCh
	pipeCh := ing.pipeCh

	for schedCh != nil || fsCh != nil || pipeCh != nil {
		select {
		case <-ctx.Done():
			if ing.debug {
				fmt.Fprintf(os.Stderr, "[INGESTER] CTX-CANCELLED\n")
			}
			return ing.flush()

		case e, ok := <-schedCh:
			if !ok {
				schedCh = nil
				continue
			}
			atomic.AddInt64(&ing.schedCount, 1)
			ing.schedBatch = append(ing.schedBatch, e)
			if len(ing.schedBatch) >= ing.batch {
				if err := ing.flushSched(); err != nil {
					return err
				}
			}

		case e, ok := <-fsCh:
			if !ok {
				fsCh = nil
				continue
			}
			atomic.AddInt64(&ing.fsCount, 1)
			ing.fsBatch = append(ing.fsBatch, e)
			if len(ing.fsBatch) >= ing.batch {
				if err := ing.flushFS(); err != nil {
					return err
				}
			}

		case e, ok := <-pipeCh:
			if !ok {
				pipeCh = nil
				continue
			}
			atomic.AddInt64(&ing.pipeCount, 1)
			ing.pipeBatch = append(ing.pipeBatch, e)
			if len(ing.pipeBatch) >= ing.batch {
				if err := ing.flushPipeline(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if err := ing.flush(); err != nil {
				return err
			}
		}
	}

	if ing.debug {
		fmt.Fprintf(os.Stderr, "[INGESTER] INPUTS-CLOSED - flushing remaining batches\n")
	}
	return ing.flush()
}

func (ing *Ingester) flush() error {
	if err := ing.flushSched(); err != nil {
		return err
	}
	if err := ing.flushFS(); err != nil {
		return err
	}
	return ing.flushPipeline()
}

// withBusyRetry retries fn with exponential backoff when sqlite
// reports the database as locked or busy, which happens under
// concurrent writers even with WAL mode enabled.
func withBusyRetry(fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (ing *Ingester) flushSched() error {
	if len(ing.schedBatch) == 0 {
		return nil
	}
	batch := ing.schedBatch
	err := withBusyRetry(func() error {
		tx, err := ing.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin sched_events transaction: %w", err)
		}
		stmt := tx.Stmt(ing.schedStmt)
		for _, e := range batch {
			if _, err := stmt.Exec(ing.runID, e.Tick, e.ThreadID, e.Transition, e.Queue); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert sched_event tick=%d thread=%d: %w", e.Tick, e.ThreadID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	ing.schedBatch = ing.schedBatch[:0]
	return nil
}

func (ing *Ingester) flushFS() error {
	if len(ing.fsBatch) == 0 {
		return nil
	}
	batch := ing.fsBatch
	err := withBusyRetry(func() error {
		tx, err := ing.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin fs_ops transaction: %w", err)
		}
		stmt := tx.Stmt(ing.fsStmt)
		for _, e := range batch {
			if _, err := stmt.Exec(ing.runID, e.Tick, e.Op, e.Path, e.Result); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert fs_op path=%q: %w", e.Path, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	ing.fsBatch = ing.fsBatch[:0]
	return nil
}

func (ing *Ingester) flushPipeline() error {
	if len(ing.pipeBatch) == 0 {
		return nil
	}
	batch := ing.pipeBatch
	err := withBusyRetry(func() error {
		tx, err := ing.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin pipeline_samples transaction: %w", err)
		}
		stmt := tx.Stmt(ing.pipeStmt)
		for _, e := range batch {
			if _, err := stmt.Exec(ing.runID, e.Tick, e.QueueName, e.Size, e.Capacity, e.WorkerCount); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert pipeline_sample queue=%q: %w", e.QueueName, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	ing.pipeBatch = ing.pipeBatch[:0]
	return nil
}

// Progress returns the row counts ingested so far (safe for concurrent access).
func (ing *Ingester) Progress() Progress {
	return Progress{
		SchedEvents:     atomic.LoadInt64(&ing.schedCount),
		FSOps:           atomic.LoadInt64(&ing.fsCount),
		PipelineSamples: atomic.LoadInt64(&ing.pipeCount),
	}
}
