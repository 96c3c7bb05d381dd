package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nsim",
	Short: "A teaching-kernel scheduler, filesystem, and pipeline simulator",
	Long: `nsim drives three independent simulations — an MLFQ/SRTF thread
scheduler, a chained-index filesystem, and a bounded producer/consumer
pipeline — and records each run's trace into SQLite for later
inspection. It provides a TUI browser for exploring a stored run.`,
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(schedCmd)
	rootCmd.AddCommand(fsCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(tuiCmd)
}
