package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/nsimlab/nsim/internal/store"

	_ "modernc.org/sqlite"
)

// ProgressFunc is called periodically with the row counts ingested so far.
type ProgressFunc func(store.Progress)

// StageFunc is called when the run's stage changes (run, indexes, finalize).
type StageFunc func(stage string)

// Workload runs one simulation against channels the snapshot manager's
// ingester drains into sched_events/fs_ops/pipeline_samples. It must
// close every channel it was given once it has nothing left to send.
type Workload func(ctx context.Context, schedCh chan<- store.SchedEvent, fsCh chan<- store.FSOp, pipeCh chan<- store.PipelineSample) error

// Manager handles a run's lifecycle: locking the output directory,
// streaming trace rows into a temp database, finalizing it, and
// pruning old snapshots by retention count.
type Manager struct {
	outputDir    string
	retention    int
	lock         *flock.Flock
	progressFunc ProgressFunc
	stageFunc    StageFunc
	indexMode    string
	sqliteTmpDir string
}

// NewManager creates a new snapshot manager.
func NewManager(outputDir string, retention int) *Manager {
	return &Manager{
		outputDir: outputDir,
		retention: retention,
	}
}

// SetProgressFunc sets a callback for progress updates during the run.
func (m *Manager) SetProgressFunc(f ProgressFunc) {
	m.progressFunc = f
}

// SetStageFunc sets a callback for run stage updates.
func (m *Manager) SetStageFunc(f StageFunc) {
	m.stageFunc = f
}

// SetIndexMode sets the index build mode: memory|disk|skip.
func (m *Manager) SetIndexMode(mode string) {
	m.indexMode = mode
}

// SetSQLiteTmpDir sets the temp directory for SQLite during index build.
func (m *Manager) SetSQLiteTmpDir(dir string) {
	m.sqliteTmpDir = dir
}

// Run executes one complete run of the given kind: it acquires the
// output directory lock, streams the workload's rows into a temp
// database, finalizes it, and publishes it under a uuid-derived name.
func (m *Manager) Run(ctx context.Context, kind store.RunKind, workload Workload) (string, error) {
	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := m.acquireLock(); err != nil {
		return "", fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer m.releaseLock()

	runUUID := uuid.NewString()
	tempPath := filepath.Join(m.outputDir, fmt.Sprintf(".nsim-temp-%s.db", runUUID))
	database, err := sql.Open("sqlite", tempPath)
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to create database: %w", err)
	}

	if err := store.InitSchema(database); err != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.ApplyWritePragmas(database); err != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to apply pragmas: %w", err)
	}

	runID, err := store.CreateRun(database, runUUID, kind, time.Now())
	if err != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to create run row: %w", err)
	}

	if m.stageFunc != nil {
		m.stageFunc("run")
	}

	schedCh := make(chan store.SchedEvent, 256)
	fsCh := make(chan store.FSOp, 256)
	pipeCh := make(chan store.PipelineSample, 256)

	ing := store.NewIngester(database, runID, schedCh, fsCh, pipeCh, 200, 500*time.Millisecond, false)

	ingDone := make(chan error, 1)
	go func() { ingDone <- ing.Run(ctx) }()

	progressDone := make(chan struct{})
	if m.progressFunc != nil {
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-progressDone:
					return
				case <-ticker.C:
					m.progressFunc(ing.Progress())
				}
			}
		}()
	}

	workloadErr := workload(ctx, schedCh, fsCh, pipeCh)
	close(progressDone)

	ingErr := <-ingDone
	if workloadErr != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("run failed: %w", workloadErr)
	}
	if ingErr != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("ingestion failed: %w", ingErr)
	}

	if err := store.FinishRun(database, runID, time.Now()); err != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finish run: %w", err)
	}

	if m.indexMode == "" {
		m.indexMode = "memory"
	}
	if m.indexMode != "skip" {
		if m.stageFunc != nil {
			m.stageFunc("indexes")
		}
		if err := store.ApplyIndexPragmas(database, m.indexMode == "disk", m.sqliteTmpDir); err != nil {
			database.Close()
			os.Remove(tempPath)
			return "", fmt.Errorf("failed to apply index pragmas: %w", err)
		}
		if err := store.BuildIndexes(database); err != nil {
			database.Close()
			os.Remove(tempPath)
			return "", fmt.Errorf("failed to build indexes: %w", err)
		}
	}

	if m.stageFunc != nil {
		m.stageFunc("finalize")
	}
	if err := store.Finalize(database); err != nil {
		database.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize database: %w", err)
	}
	database.Close()

	finalName := fmt.Sprintf("nsim-%s.db", runUUID)
	finalPath := filepath.Join(m.outputDir, finalName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename database: %w", err)
	}

	latestPath := filepath.Join(m.outputDir, "latest.db")
	tempLink := filepath.Join(m.outputDir, ".latest.db.tmp")
	os.Remove(tempLink)
	if err := os.Symlink(finalName, tempLink); err == nil {
		if err := os.Rename(tempLink, latestPath); err != nil {
			os.Remove(tempLink)
			fmt.Fprintf(os.Stderr, "warning: failed to update latest.db symlink: %v\n", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "warning: failed to create latest.db symlink: %v\n", err)
	}

	if err := m.pruneOldSnapshots(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to prune old snapshots: %v\n", err)
	}

	return finalPath, nil
}

func (m *Manager) acquireLock() error {
	lockPath := filepath.Join(m.outputDir, ".nsim.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another run is in progress")
	}
	m.lock = lock
	return nil
}

func (m *Manager) releaseLock() {
	if m.lock != nil {
		m.lock.Unlock()
		m.lock = nil
	}
}

func (m *Manager) pruneOldSnapshots() error {
	if m.retention <= 0 {
		return nil
	}

	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return err
	}

	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "nsim-") && strings.HasSuffix(e.Name(), ".db") {
			snapshots = append(snapshots, e.Name())
		}
	}

	// Names embed a uuid, not a timestamp, so sort by mtime rather than
	// lexical order to find the oldest snapshots.
	sort.Slice(snapshots, func(i, j int) bool {
		fi, errI := os.Stat(filepath.Join(m.outputDir, snapshots[i]))
		fj, errJ := os.Stat(filepath.Join(m.outputDir, snapshots[j]))
		if errI != nil || errJ != nil {
			return snapshots[i] < snapshots[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for len(snapshots) > m.retention {
		oldPath := filepath.Join(m.outputDir, snapshots[0])
		if err := os.Remove(oldPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", snapshots[0], err)
		}
		snapshots = snapshots[1:]
	}

	return nil
}

// GetLatest returns the path to the latest snapshot.
func (m *Manager) GetLatest() (string, error) {
	latestPath := filepath.Join(m.outputDir, "latest.db")
	resolved, err := filepath.EvalSymlinks(latestPath)
	if err != nil {
		return "", fmt.Errorf("no latest snapshot found: %w", err)
	}
	return resolved, nil
}

// ListSnapshots returns every available snapshot path, oldest first.
func (m *Manager) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "nsim-") && strings.HasSuffix(e.Name(), ".db") {
			snapshots = append(snapshots, filepath.Join(m.outputDir, e.Name()))
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		fi, errI := os.Stat(snapshots[i])
		fj, errJ := os.Stat(snapshots[j])
		if errI != nil || errJ != nil {
			return snapshots[i] < snapshots[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	return snapshots, nil
}
