package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsimlab/nsim/internal/sched"
	"github.com/nsimlab/nsim/internal/snapshot"
	"github.com/nsimlab/nsim/internal/store"
	"github.com/nsimlab/nsim/internal/thread"
	"github.com/nsimlab/nsim/internal/tick"
)

var schedCmd = &cobra.Command{
	Use:   "sched",
	Short: "Run the MLFQ/SRTF scheduler against a synthetic thread mix",
	Long: `sched admits a batch of CPU-bound threads with randomized priorities
and burst lengths, drives them to completion through the three-level
MLFQ/SRTF scheduler one tick at a time, and records every admission,
dispatch, preemption, and finish as a trace row.`,
	RunE: runSched,
}

var (
	schedThreads   int
	schedSeed      int64
	schedOut       string
	schedRetention int
	schedVerbose   bool
	schedIndexMode string
)

func init() {
	schedCmd.Flags().IntVarP(&schedThreads, "threads", "n", 12, "Number of threads to admit")
	schedCmd.Flags().Int64Var(&schedSeed, "seed", 1, "Random seed for priorities and burst lengths")
	schedCmd.Flags().StringVarP(&schedOut, "out", "o", "./data", "Output directory for the run database")
	schedCmd.Flags().IntVar(&schedRetention, "retention", 5, "Number of run snapshots to retain (0 = unlimited)")
	schedCmd.Flags().BoolVarP(&schedVerbose, "verbose", "v", false, "Enable verbose scheduler tracing to stderr")
	schedCmd.Flags().StringVar(&schedIndexMode, "index-mode", "memory", "Index build mode: memory|disk|skip")
}

func runSched(cmd *cobra.Command, args []string) error {
	outDir, err := filepath.Abs(schedOut)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	switch schedIndexMode {
	case "memory", "disk", "skip":
	default:
		return fmt.Errorf("invalid index mode %q (expected memory|disk|skip)", schedIndexMode)
	}

	sched.Trace = schedVerbose

	mgr := snapshot.NewManager(outDir, schedRetention)
	mgr.SetIndexMode(schedIndexMode)

	ctx := withCancelOnSignal()
	startTime := time.Now()

	pp := newProgressPrinter("sched")
	mgr.SetProgressFunc(pp.onProgress)
	mgr.SetStageFunc(pp.onStage)
	progressDone := make(chan struct{})
	go pp.run(progressDone)

	dbPath, err := mgr.Run(ctx, store.RunKindScheduler, schedWorkload(schedThreads, schedSeed))
	close(progressDone)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Run canceled.")
			return nil
		}
		return fmt.Errorf("sched run failed: %w", err)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Run completed in %s\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func levelQueueName(priority int) string {
	return fmt.Sprintf("L%d", thread.Level(priority))
}

// schedWorkload builds a Workload that admits n synthetic threads and
// runs them to completion, tick by tick, emitting one SchedEvent per
// admission, dispatch, preemption, and finish.
func schedWorkload(n int, seed int64) snapshot.Workload {
	return func(ctx context.Context, schedCh chan<- store.SchedEvent, fsCh chan<- store.FSOp, pipeCh chan<- store.PipelineSample) error {
		defer close(schedCh)
		defer close(fsCh)
		defer close(pipeCh)

		clock := tick.NewSource()
		s := sched.New(clock, sched.DefaultConfig())
		rng := rand.New(rand.NewSource(seed))

		type job struct {
			tcb       *thread.ControlBlock
			remaining float64
		}
		jobs := make(map[int]*job, n)

		emit := func(id int, transition, queue string) {
			schedCh <- store.SchedEvent{Tick: clock.Now(), ThreadID: id, Transition: transition, Queue: queue}
		}

		for i := 1; i <= n; i++ {
			priority := rng.Intn(thread.MaxPriority + 1)
			burst := 50 + rng.Float64()*450
			tcb := thread.New(i, fmt.Sprintf("t%d", i), priority, 0.5)
			jobs[i] = &job{tcb: tcb, remaining: burst}
			s.ReadyToRun(tcb)
			emit(i, "ready", levelQueueName(priority))
		}

		remaining := n
		var current *thread.ControlBlock

		dispatch := func() {
			next := s.FindNextToRun()
			if next == nil {
				current = nil
				return
			}
			s.Run(next, false)
			emit(next.ID, "dispatch", levelQueueName(next.Priority))
			current = next
		}

		dispatch()

		for remaining > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if current == nil {
				// No ready thread; every remaining job is already
				// finished or something is wrong upstream. Bail rather
				// than spin.
				return fmt.Errorf("sched workload: no runnable thread with %d jobs left", remaining)
			}

			clock.Advance(1)
			s.Aging()

			jb := jobs[current.ID]
			jb.remaining--

			if jb.remaining <= 0 {
				finished := current
				queue := levelQueueName(finished.Priority)
				next := s.FindNextToRun()
				if next != nil {
					s.Run(next, true)
					emit(next.ID, "dispatch", levelQueueName(next.Priority))
				} else {
					finished.EnterBlockedFromRunning(clock.Now())
					finished.Status = thread.Zombie
				}
				emit(finished.ID, "finish", queue)
				current = next
				remaining--
				continue
			}

			level := thread.Level(current.Priority)
			preempt := s.ShouldPreempt(current) || (level == 3 && s.CheckYield(current))
			if preempt {
				queue := levelQueueName(current.Priority)
				s.ReadyToRun(current)
				emit(current.ID, "preempt", queue)
				dispatch()
			}
		}

		return nil
	}
}
