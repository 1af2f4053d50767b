package cmd

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"rtmpipe/pkg/api"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1F4E79", Dark: "#7FB3E0"})
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(14)
	tailStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}).
			PaddingLeft(1).PaddingRight(1)

	statusColors = map[string]lipgloss.AdaptiveColor{
		"success": {Light: "#2E7D32", Dark: "#81C784"},
		"failed":  {Light: "#C62828", Dark: "#E57373"},
		"running": {Light: "#EF6C00", Dark: "#FFB74D"},
		"skipped": {Light: "#757575", Dark: "#9E9E9E"},
	}
)

func statusText(status string) string {
	color, ok := statusColors[status]
	if !ok {
		return status
	}
	return lipgloss.NewStyle().Foreground(color).Render(status)
}

// renderTable lays rows out in columns sized to their widest cell.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cellStyle.Width(widths[i] + 2).Render(style.Render(cell))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{line(header, headerStyle)}
	for _, row := range rows {
		lines = append(lines, line(row, lipgloss.NewStyle()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func RenderRuns(runs []api.RunBrief) string {
	if len(runs) == 0 {
		return "no runs yet"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		failure := ""
		if r.FailedStage != "" {
			failure = r.FailedStage + ": " + r.ErrorKind
		}
		rows = append(rows, []string{r.RunID, statusText(r.Status), r.TriggerType, r.ProjectKey, r.ExecutionKey, r.StartTime, failure})
	}
	return renderTable([]string{"RUN", "STATUS", "TRIGGER", "PROJECT", "EXECUTION", "STARTED", "FAILURE"}, rows)
}

func RenderRunDetail(d *api.RunDetail) string {
	field := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	lines := []string{
		field("Run", d.RunID),
		field("Status", statusText(d.Status)),
		field("Trigger", d.TriggerType),
		field("Project", d.ProjectKey),
		field("Execution", d.ExecutionKey),
		field("Started", d.StartTime),
		field("Ended", d.EndTime),
	}
	if d.Error != "" {
		lines = append(lines, field("Error", d.ErrorKind+": "+d.Error))
	}
	if d.ArchivePath != "" {
		lines = append(lines, field("Archive", d.ArchivePath))
	}

	rows := make([][]string, 0, len(d.Stages))
	for _, s := range d.Stages {
		exit := ""
		if s.Status == "success" || s.Status == "failed" {
			exit = strconv.Itoa(s.ExitCode)
		}
		rows = append(rows, []string{s.Stage, statusText(s.Status), exit, s.StartTime, s.EndTime})
	}
	lines = append(lines, "", renderTable([]string{"STAGE", "STATUS", "EXIT", "STARTED", "ENDED"}, rows))

	for _, s := range d.Stages {
		if s.Tail == "" {
			continue
		}
		lines = append(lines, "", headerStyle.Render(s.Stage+" output"), tailStyle.Render(strings.TrimRight(s.Tail, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
