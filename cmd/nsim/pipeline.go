package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsimlab/nsim/internal/pipeline"
	"github.com/nsimlab/nsim/internal/snapshot"
	"github.com/nsimlab/nsim/internal/store"
)

// pipelineCmd is the literal `pipeline run <n> <input> <output>`
// surface: n items flow from input to output through the producer and
// worker pools, transformed along the way.
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the bounded producer/consumer pipeline",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <n> <input> <output>",
	Short: "Read n lines from input, transform them, and write them to output",
	Args:  cobra.ExactArgs(3),
	RunE:  runPipeline,
}

var (
	pipelineReaderCap  int
	pipelineWorkerCap  int
	pipelineWriterCap  int
	pipelineProducers  int
	pipelineConsumers  int
	pipelineCheckMs    int
	pipelineLowMark    float64
	pipelineHighMark   float64
	pipelineTransform  string
	pipelineTraceOut   string
	pipelineRetention  int
	pipelineIndexMode  string
	pipelineTraceFlag  bool
)

func init() {
	pipelineCmd.AddCommand(pipelineRunCmd)

	pipelineRunCmd.Flags().IntVar(&pipelineReaderCap, "reader-queue-cap", 0, "Reader queue capacity (0 = default)")
	pipelineRunCmd.Flags().IntVar(&pipelineWorkerCap, "worker-queue-cap", 0, "Worker queue capacity (0 = default)")
	pipelineRunCmd.Flags().IntVar(&pipelineWriterCap, "writer-queue-cap", 0, "Writer queue capacity (0 = default)")
	pipelineRunCmd.Flags().IntVar(&pipelineProducers, "producers", 0, "Producer pool size (0 = default)")
	pipelineRunCmd.Flags().IntVar(&pipelineConsumers, "consumers", 0, "Initial worker pool size (0 = default)")
	pipelineRunCmd.Flags().IntVar(&pipelineCheckMs, "check-period-ms", 0, "Controller check period in milliseconds (0 = default)")
	pipelineRunCmd.Flags().Float64Var(&pipelineLowMark, "low-watermark", 0, "Low watermark fraction (0 = default)")
	pipelineRunCmd.Flags().Float64Var(&pipelineHighMark, "high-watermark", 0, "High watermark fraction (0 = default)")
	pipelineRunCmd.Flags().StringVar(&pipelineTransform, "transform", "uppercase", "Transform applied by workers: uppercase|identity")
	pipelineRunCmd.Flags().BoolVar(&pipelineTraceFlag, "verbose", false, "Enable verbose pipeline tracing to stderr")
	pipelineRunCmd.Flags().StringVar(&pipelineTraceOut, "trace-out", "./data", "Output directory for the run database")
	pipelineRunCmd.Flags().IntVar(&pipelineRetention, "retention", 5, "Number of run snapshots to retain (0 = unlimited)")
	pipelineRunCmd.Flags().StringVar(&pipelineIndexMode, "index-mode", "memory", "Index build mode: memory|disk|skip")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	var n int
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 0 {
		return fmt.Errorf("invalid item count %q", args[0])
	}
	inPath, outPath := args[1], args[2]

	var transformer pipeline.Transformer
	switch pipelineTransform {
	case "uppercase":
		transformer = pipeline.UppercaseTransformer{}
	case "identity":
		transformer = pipeline.IdentityTransformer{}
	default:
		return fmt.Errorf("unknown transform %q (expected uppercase|identity)", pipelineTransform)
	}

	cfg := pipeline.DefaultConfig()

	readerCap, workerCap, writerCap := cfg.ReaderQueueCap, cfg.WorkerQueueCap, cfg.WriterQueueCap
	if pipelineReaderCap > 0 {
		readerCap = pipelineReaderCap
	}
	if pipelineWorkerCap > 0 {
		workerCap = pipelineWorkerCap
	}
	if pipelineWriterCap > 0 {
		writerCap = pipelineWriterCap
	}
	cfg = cfg.WithQueueCaps(readerCap, workerCap, writerCap)

	if pipelineProducers > 0 {
		cfg = cfg.WithProducers(pipelineProducers)
	}
	if pipelineConsumers > 0 {
		cfg = cfg.WithInitialConsumers(pipelineConsumers)
	}
	if pipelineCheckMs > 0 {
		cfg = cfg.WithCheckPeriod(time.Duration(pipelineCheckMs) * time.Millisecond)
	}

	low, high := cfg.LowWatermark, cfg.HighWatermark
	if pipelineLowMark > 0 {
		low = pipelineLowMark
	}
	if pipelineHighMark > 0 {
		high = pipelineHighMark
	}
	cfg = cfg.WithWatermarks(low, high)

	pipeline.Trace = pipelineTraceFlag

	src, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open input %q: %w", inPath, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return fmt.Errorf("failed to read input %q: %w", inPath, err)
	}

	outDir, err := filepath.Abs(pipelineTraceOut)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	switch pipelineIndexMode {
	case "memory", "disk", "skip":
	default:
		return fmt.Errorf("invalid index mode %q (expected memory|disk|skip)", pipelineIndexMode)
	}

	mgr := snapshot.NewManager(outDir, pipelineRetention)
	mgr.SetIndexMode(pipelineIndexMode)

	ctx := withCancelOnSignal()
	startTime := time.Now()

	pp := newProgressPrinter("pipeline")
	mgr.SetProgressFunc(pp.onProgress)
	mgr.SetStageFunc(pp.onStage)
	progressDone := make(chan struct{})
	go pp.run(progressDone)

	var stats pipeline.Stats
	var runErr error
	var output []byte
	dbPath, err := mgr.Run(ctx, store.RunKindPipeline, pipelineWorkload(cfg, transformer, buf.Bytes(), n, &stats, &runErr, &output))
	close(progressDone)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Run canceled.")
			return nil
		}
		return fmt.Errorf("pipeline run failed: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("pipeline run failed: %w", runErr)
	}

	if err := os.WriteFile(outPath, output, 0o644); err != nil {
		return fmt.Errorf("failed to write output %q: %w", outPath, err)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Items read: %d, items written: %d\n", stats.ItemsRead, stats.ItemsWritten)
	fmt.Printf("Run completed in %s\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// pipelineWorkload adapts one pipeline.Run invocation into a Workload:
// it feeds the controller's queue-depth samples into pipeCh and leaves
// sched/fs event channels untouched (pipeline runs don't produce them).
// Results are reported through stats/runErr/output rather than a
// return value, since Workload's own error path is reserved for
// run-infrastructure failures the snapshot manager must abort on.
func pipelineWorkload(cfg *pipeline.Config, transformer pipeline.Transformer, input []byte, n int, stats *pipeline.Stats, runErr *error, output *[]byte) snapshot.Workload {
	return func(ctx context.Context, schedCh chan<- store.SchedEvent, fsCh chan<- store.FSOp, pipeCh chan<- store.PipelineSample) error {
		defer close(schedCh)
		defer close(fsCh)
		defer close(pipeCh)

		var tick int64
		cfg = cfg.WithSample(func(queueName string, size, capacity, workerCount int) {
			tick++
			pipeCh <- store.PipelineSample{Tick: tick, QueueName: queueName, Size: size, Capacity: capacity, WorkerCount: workerCount}
		})

		var out bytes.Buffer
		s, err := pipeline.Run(cfg, transformer, bytes.NewReader(input), &out, n)
		*stats = s
		if err != nil {
			*runErr = err
			return nil
		}
		*output = out.Bytes()
		return nil
	}
}
