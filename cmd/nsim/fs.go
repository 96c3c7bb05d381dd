package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsimlab/nsim/internal/disk"
	"github.com/nsimlab/nsim/internal/fs"
	"github.com/nsimlab/nsim/internal/snapshot"
	"github.com/nsimlab/nsim/internal/store"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Run a randomized workload against the chained-index filesystem",
	Long: `fs formats an in-memory disk image with the chained-index
filesystem, then drives a randomized mix of mkdir/create/remove/ls
operations against it, recording the path, operation, and result of
each.`,
	RunE: runFS,
}

var (
	fsSectors    int
	fsOps        int
	fsSeed       int64
	fsOut        string
	fsRetention  int
	fsIndexMode  string
	fsDirEntries int
)

func init() {
	fsCmd.Flags().IntVar(&fsSectors, "sectors", disk.DefaultNumSectors, "Number of sectors on the simulated disk")
	fsCmd.Flags().IntVarP(&fsOps, "ops", "n", 200, "Number of filesystem operations to perform")
	fsCmd.Flags().Int64Var(&fsSeed, "seed", 1, "Random seed for the operation mix")
	fsCmd.Flags().StringVarP(&fsOut, "out", "o", "./data", "Output directory for the run database")
	fsCmd.Flags().IntVar(&fsRetention, "retention", 5, "Number of run snapshots to retain (0 = unlimited)")
	fsCmd.Flags().StringVar(&fsIndexMode, "index-mode", "memory", "Index build mode: memory|disk|skip")
	fsCmd.Flags().IntVar(&fsDirEntries, "dir-entries", fs.NumDirEntries, "Directory table size for the root and every subdirectory")
}

func runFS(cmd *cobra.Command, args []string) error {
	outDir, err := filepath.Abs(fsOut)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	switch fsIndexMode {
	case "memory", "disk", "skip":
	default:
		return fmt.Errorf("invalid index mode %q (expected memory|disk|skip)", fsIndexMode)
	}

	mgr := snapshot.NewManager(outDir, fsRetention)
	mgr.SetIndexMode(fsIndexMode)

	ctx := withCancelOnSignal()
	startTime := time.Now()

	pp := newProgressPrinter("fs")
	mgr.SetProgressFunc(pp.onProgress)
	mgr.SetStageFunc(pp.onStage)
	progressDone := make(chan struct{})
	go pp.run(progressDone)

	dbPath, err := mgr.Run(ctx, store.RunKindFS, fsWorkload(fsSectors, fsOps, fsSeed, fsDirEntries))
	close(progressDone)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Run canceled.")
			return nil
		}
		return fmt.Errorf("fs run failed: %w", err)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Run completed in %s\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// fsWorkload builds a Workload that formats a fresh in-memory disk and
// runs n randomized mkdir/create/remove/ls operations against it,
// emitting one FSOp per attempt.
func fsWorkload(sectors, n int, seed int64, dirEntries int) snapshot.Workload {
	return func(ctx context.Context, schedCh chan<- store.SchedEvent, fsCh chan<- store.FSOp, pipeCh chan<- store.PipelineSample) error {
		defer close(schedCh)
		defer close(fsCh)
		defer close(pipeCh)

		d := disk.New(sectors)
		fsys, err := fs.Format(d, fs.DefaultOptions().WithNumDirEntries(dirEntries))
		if err != nil {
			return fmt.Errorf("fs workload: format: %w", err)
		}

		rng := rand.New(rand.NewSource(seed))
		dirs := []string{"/"}
		var files []string
		var tick int64

		emit := func(op, path string, err error) {
			tick++
			result := "ok"
			if err != nil {
				result = "error"
			}
			fsCh <- store.FSOp{Tick: tick, Op: op, Path: path, Result: result}
		}

		randDir := func() string {
			return dirs[rng.Intn(len(dirs))]
		}
		joinPath := func(dir, leaf string) string {
			if dir == "/" {
				return "/" + leaf
			}
			return dir + "/" + leaf
		}

		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			switch rng.Intn(4) {
			case 0: // mkdir
				path := joinPath(randDir(), fmt.Sprintf("d%d", i))
				err := fsys.CreateDir(path)
				emit("mkdir", path, err)
				if err == nil {
					dirs = append(dirs, path)
				}

			case 1: // create
				path := joinPath(randDir(), fmt.Sprintf("f%d", i))
				size := 16 + rng.Intn(2048)
				err := fsys.Create(path, size)
				emit("create", path, err)
				if err == nil {
					files = append(files, path)
				}

			case 2: // remove
				path, ok := pickRemovable(rng, dirs, files)
				if !ok {
					emit("remove", "(none available)", errNothingToRemove)
					continue
				}
				err := fsys.Remove(path)
				emit("remove", path, err)
				if err == nil {
					dirs, files = dropPath(dirs, files, path)
				}

			case 3: // ls
				path := randDir()
				recursive := rng.Intn(2) == 0
				_, err := fsys.List(path, recursive)
				emit("ls", path, err)
			}
		}

		return nil
	}
}

var errNothingToRemove = fmt.Errorf("fs workload: nothing eligible to remove")

// pickRemovable returns a random non-root path from dirs or files.
func pickRemovable(rng *rand.Rand, dirs, files []string) (string, bool) {
	candidates := make([]string, 0, len(dirs)+len(files)-1)
	for _, d := range dirs {
		if d != "/" {
			candidates = append(candidates, d)
		}
	}
	candidates = append(candidates, files...)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rng.Intn(len(candidates))], true
}

func dropPath(dirs, files []string, path string) ([]string, []string) {
	for i, d := range dirs {
		if d == path {
			return append(dirs[:i], dirs[i+1:]...), files
		}
	}
	for i, f := range files {
		if f == path {
			return dirs, append(files[:i], files[i+1:]...)
		}
	}
	return dirs, files
}
