package main

import (
	"database/sql"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nsimlab/nsim/internal/store"
	"github.com/nsimlab/nsim/internal/tui"

	_ "modernc.org/sqlite"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse a stored run interactively",
	Long:  `Open an interactive TUI to scroll and filter one run's trace rows.`,
	RunE:  runTUI,
}

var (
	tuiDB  string
	tuiRun string
)

func init() {
	tuiCmd.Flags().StringVarP(&tuiDB, "db", "d", "./data/latest.db", "Path to run database file")
	tuiCmd.Flags().StringVar(&tuiRun, "run", "", "UUID of the run to browse (default: the most recent run in the database)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	database, err := sql.Open("sqlite", tuiDB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := store.ApplyReadPragmas(database); err != nil {
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}

	var run *store.Run
	if tuiRun != "" {
		run, err = store.RunByUUID(database, tuiRun)
		if err != nil {
			return fmt.Errorf("failed to look up run %s: %w", tuiRun, err)
		}
	} else {
		run, err = store.LatestRun(database)
		if err != nil {
			return fmt.Errorf("failed to look up latest run: %w", err)
		}
	}
	if run == nil {
		return fmt.Errorf("no matching run found in %s", tuiDB)
	}

	model := tui.NewModel(database, run)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
