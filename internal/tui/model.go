package tui

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nsimlab/nsim/internal/store"
)

// row is one line of trace data, already formatted into display
// columns so View doesn't need to know which run kind produced it.
type row struct {
	tick    int64
	cols    []string
	summary string // substring searched by filter
}

// Model holds the TUI state for browsing one stored run.
type Model struct {
	db  *sql.DB
	run *store.Run

	columns    []string
	allRows    []row
	rows       []row
	cursor     int
	width      int
	height     int
	filter     string
	filterMode bool
	err        error

	headline string // kind-specific summary line (queue depths, pipeline fill, op tally)
}

// NewModel creates a TUI model bound to one run.
func NewModel(database *sql.DB, run *store.Run) *Model {
	return &Model{db: database, run: run}
}

func (m *Model) Init() tea.Cmd {
	return m.loadRows
}

type rowsLoadedMsg struct {
	columns  []string
	rows     []row
	headline string
	err      error
}

const rowLimit = 5000

func (m *Model) loadRows() tea.Msg {
	switch m.run.Kind {
	case store.RunKindScheduler:
		events, err := store.SchedEvents(m.db, m.run.ID, rowLimit)
		if err != nil {
			return rowsLoadedMsg{err: err}
		}
		return rowsLoadedMsg{
			columns:  []string{"TICK", "THREAD", "TRANSITION", "QUEUE"},
			rows:     schedEventRows(events),
			headline: queueDepthHeadline(events),
		}

	case store.RunKindFS:
		ops, err := store.FSOps(m.db, m.run.ID, rowLimit)
		if err != nil {
			return rowsLoadedMsg{err: err}
		}
		return rowsLoadedMsg{
			columns:  []string{"TICK", "OP", "PATH", "RESULT"},
			rows:     fsOpRows(ops),
			headline: fsResultHeadline(ops),
		}

	case store.RunKindPipeline:
		samples, err := store.PipelineSamples(m.db, m.run.ID, rowLimit)
		if err != nil {
			return rowsLoadedMsg{err: err}
		}
		return rowsLoadedMsg{
			columns:  []string{"TICK", "QUEUE", "SIZE", "CAPACITY", "WORKERS"},
			rows:     pipelineSampleRows(samples),
			headline: pipelineFillHeadline(samples),
		}

	default:
		return rowsLoadedMsg{err: fmt.Errorf("tui: unknown run kind %q", m.run.Kind)}
	}
}

func schedEventRows(events []store.SchedEvent) []row {
	out := make([]row, 0, len(events))
	for _, e := range events {
		out = append(out, row{
			tick: e.Tick,
			cols: []string{
				strconv.FormatInt(e.Tick, 10),
				strconv.Itoa(e.ThreadID),
				e.Transition,
				e.Queue,
			},
			summary: e.Transition + " " + e.Queue,
		})
	}
	return out
}

func fsOpRows(ops []store.FSOp) []row {
	out := make([]row, 0, len(ops))
	for _, o := range ops {
		out = append(out, row{
			tick: o.Tick,
			cols: []string{
				strconv.FormatInt(o.Tick, 10),
				o.Op,
				o.Path,
				o.Result,
			},
			summary: o.Op + " " + o.Path + " " + o.Result,
		})
	}
	return out
}

func pipelineSampleRows(samples []store.PipelineSample) []row {
	out := make([]row, 0, len(samples))
	for _, s := range samples {
		out = append(out, row{
			tick: s.Tick,
			cols: []string{
				strconv.FormatInt(s.Tick, 10),
				s.QueueName,
				strconv.Itoa(s.Size),
				strconv.Itoa(s.Capacity),
				strconv.Itoa(s.WorkerCount),
			},
			summary: s.QueueName,
		})
	}
	return out
}

// queueDepthHeadline summarizes how many events landed in each ready
// queue level, a coarse stand-in for queue depth over time until a
// panel renders the full series.
func queueDepthHeadline(events []store.SchedEvent) string {
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Queue]++
	}
	return fmt.Sprintf("L1: %d  L2: %d  L3: %d", counts["L1"], counts["L2"], counts["L3"])
}

func fsResultHeadline(ops []store.FSOp) string {
	counts := map[string]int{}
	for _, o := range ops {
		counts[o.Result]++
	}
	var b strings.Builder
	first := true
	for _, result := range []string{"ok", "error"} {
		if counts[result] == 0 {
			continue
		}
		if !first {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%s: %d", result, counts[result])
		first = false
	}
	return b.String()
}

// pipelineFillHeadline reports each queue's most recent fill fraction,
// keyed by the last sample seen per queue name.
func pipelineFillHeadline(samples []store.PipelineSample) string {
	latest := map[string]store.PipelineSample{}
	for _, s := range samples {
		latest[s.QueueName] = s
	}
	var b strings.Builder
	first := true
	for _, name := range []string{"reader", "worker", "writer"} {
		s, ok := latest[name]
		if !ok {
			continue
		}
		if !first {
			b.WriteString("  ")
		}
		fill := 0.0
		if s.Capacity > 0 {
			fill = float64(s.Size) / float64(s.Capacity) * 100
		}
		fmt.Fprintf(&b, "%s: %d/%d (%.0f%%) w=%d", name, s.Size, s.Capacity, fill, s.WorkerCount)
		first = false
	}
	return b.String()
}

func (m *Model) helpLine() string {
	if m.filterMode {
		return "Type to filter | Enter: apply | Esc: clear | q: quit"
	}
	return "↑/↓ move | /: filter | r: reload | q: quit"
}

func (m *Model) setRows(rows []row) {
	m.allRows = rows
	m.applyFilter()
}

func (m *Model) applyFilter() {
	if m.filter == "" {
		m.rows = m.allRows
	} else {
		filtered := make([]row, 0, len(m.allRows))
		needle := strings.ToLower(m.filter)
		for _, r := range m.allRows {
			if strings.Contains(strings.ToLower(r.summary), needle) {
				filtered = append(filtered, r)
			}
		}
		m.rows = filtered
	}
	if m.cursor >= len(m.rows) {
		m.cursor = 0
	}
}
