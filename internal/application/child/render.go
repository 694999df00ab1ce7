package child

import (
	"fmt"
	"strings"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	statusOther     = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func statusStyle(status domain.RunStatus) lipgloss.Style {
	switch status {
	case domain.StatusSucceeded:
		return statusSucceeded
	case domain.StatusFailed:
		return statusFailed
	case domain.StatusRunning:
		return statusRunning
	case domain.StatusPending:
		return statusPending
	default:
		return statusOther
	}
}

// RenderRuns formats runs as an aligned table
func RenderRuns(deployment string, runs []RunSummary) string {
	var b strings.Builder
	if len(runs) == 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("No runs found for %s", deployment)))
		b.WriteString("\n")
		return b.String()
	}

	rows := [][]string{{"PATHSPEC", "STATUS", "STARTED"}}
	for _, r := range runs {
		started := "-"
		if r.StartedAt != nil {
			started = r.StartedAt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{r.Pathspec, string(r.Status), started})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			switch {
			case n == 0:
				cells[i] = headerStyle.Render(padded)
			case i == 1:
				cells[i] = statusStyle(runs[n-1].Status).Render(padded)
			default:
				cells[i] = padded
			}
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteString("\n")
	}
	return b.String()
}
