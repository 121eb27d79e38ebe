package ui

import (
	"fmt"
	"time"

	"github.com/hari1098/snaptalks/internal/call"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SummaryView renders one row per finished call.
func SummaryView(summaries []call.Summary) string {
	t := table.NewWriter()
	t.SetTitle(IconCall + " Call Summary")
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(table.Row{"#", "Session", "Role", "Media", "Duration", "Outcome"})

	for i, s := range summaries {
		t.AppendRow(table.Row{
			i + 1,
			shortID(s.SessionID),
			s.Role,
			s.Media,
			formatDuration(s.Duration()),
			outcome(s),
		})
	}
	if len(summaries) == 0 {
		t.AppendRow(table.Row{"", "", "", "", "", "no calls"})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
	})
	return t.Render()
}

func RenderSummary(summaries []call.Summary) {
	fmt.Println(SummaryView(summaries))
}

func outcome(s call.Summary) string {
	if s.Err != nil {
		return fmt.Sprintf("%s (%s)", s.Reason, describeError(s.Err))
	}
	return s.Reason.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
