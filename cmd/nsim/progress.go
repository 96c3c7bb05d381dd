package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nsimlab/nsim/internal/store"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// withCancelOnSignal returns a context canceled on SIGINT/SIGTERM; a
// second signal forces immediate exit, mirroring the impatient-user
// escape hatch every long-running subcommand here needs.
func withCancelOnSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCanceling... (press Ctrl+C again to force)")
		cancel()
		<-sigCh
		os.Exit(130)
	}()
	return ctx
}

// progressPrinter renders a spinner line to stderr while a run
// executes, fed by the snapshot manager's progress and stage
// callbacks. It stays silent when stdout isn't a terminal.
type progressPrinter struct {
	label     string
	startTime time.Time
	stage     atomic.Value

	sched atomic.Int64
	fs    atomic.Int64
	pipe  atomic.Int64
}

func newProgressPrinter(label string) *progressPrinter {
	p := &progressPrinter{label: label, startTime: time.Now()}
	p.stage.Store("run")
	return p
}

func (p *progressPrinter) onProgress(pr store.Progress) {
	p.sched.Store(pr.SchedEvents)
	p.fs.Store(pr.FSOps)
	p.pipe.Store(pr.PipelineSamples)
}

func (p *progressPrinter) onStage(s string) {
	if s == "" {
		return
	}
	p.stage.Store(s)
}

// run blocks rendering the spinner until done is closed. Call it in its
// own goroutine.
func (p *progressPrinter) run(done <-chan struct{}) {
	if !isTerminal() {
		<-done
		return
	}
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	idx := 0
	for {
		select {
		case <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
			stage, _ := p.stage.Load().(string)
			elapsed := time.Since(p.startTime).Round(time.Millisecond)
			spinner := spinnerFrames[idx%len(spinnerFrames)]
			idx++
			rows := p.sched.Load() + p.fs.Load() + p.pipe.Load()
			fmt.Fprintf(os.Stderr, "\r\033[K%s %s %s... %d rows | %s", spinner, p.label, stage, rows, elapsed)
		}
	}
}
