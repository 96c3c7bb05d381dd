package tui

import (
	"fmt"
	"strings"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err)
	}

	if m.columns == nil {
		return "Loading..."
	}

	var b strings.Builder
	headerLines := 0

	writeLine := func(line string) {
		b.WriteString(line)
		b.WriteString("\n")
		headerLines++
	}

	writeLine(titleStyle.Render("nsim - Run Inspector"))

	runInfo := fmt.Sprintf("Run: %s | Kind: %s | Started: %s",
		m.run.UUID, m.run.Kind, m.run.StartTime.Format("2006-01-02 15:04:05"))
	writeLine(statsStyle.Render(runInfo))

	if m.headline != "" {
		writeLine(breadcrumbStyle.Render(m.headline))
	}

	status := fmt.Sprintf("Rows: %s", FormatCount(int64(len(m.rows))))
	if m.filter != "" {
		status += fmt.Sprintf(" | Filter: %q", m.filter)
	}
	writeLine(statusStyle.Render(status))

	if m.filterMode {
		writeLine(filterStyle.Render(fmt.Sprintf("Filter: %s_", m.filter)))
	} else if m.filter != "" {
		writeLine(filterStyle.Render(fmt.Sprintf("Filter: %s", m.filter)))
	}

	widths := calcColumnWidths(m.columns, m.rows)
	gap := "  "

	var headerCells []string
	for i, col := range m.columns {
		headerCells = append(headerCells, padRight(col, widths[i]))
	}
	writeLine(headerStyle.Render(strings.Join(headerCells, gap)))

	footerLines := 2
	visibleRows := m.height - headerLines - footerLines
	if visibleRows < 5 {
		visibleRows = 5
	}

	startIdx := 0
	if m.cursor >= visibleRows {
		startIdx = m.cursor - visibleRows + 1
	}
	endIdx := min(len(m.rows), startIdx+visibleRows)

	for i := startIdx; i < endIdx; i++ {
		r := m.rows[i]
		var cells []string
		for j, col := range r.cols {
			cells = append(cells, padRight(col, widths[j]))
		}
		line := strings.Join(cells, gap)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		} else {
			line = rowStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	displayedRows := min(len(m.rows)-startIdx, visibleRows)
	for i := displayedRows; i < visibleRows; i++ {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	help := m.helpLine()
	if len(m.rows) > 0 {
		help = fmt.Sprintf("%s [%d/%d]", help, m.cursor+1, len(m.rows))
	}
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func calcColumnWidths(columns []string, rows []row) []int {
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, r := range rows {
		for i, c := range r.cols {
			if i >= len(widths) {
				continue
			}
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	return widths
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
