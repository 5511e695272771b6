package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/term"

	"github.com/Strob0t/SubCtl/internal/domain/agent"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E0E0E0"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	deltaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4D96FF"))

	statusStyles = map[agent.Status]lipgloss.Style{
		agent.StatusIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		agent.StatusWorking:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77")),
		agent.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D")),
		agent.StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		agent.StatusTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}

	complianceGood = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77"))
	complianceWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D"))
	complianceBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// colorEnabled reports whether stdout is a terminal.
func colorEnabled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// paint styles s when color is on. Cells are padded before painting so
// ANSI codes never disturb column alignment.
func paint(s string, style lipgloss.Style, color bool) string {
	if !color {
		return s
	}
	return style.Render(s)
}

// complianceStyle classifies a score: red below 0.80, yellow below
// 0.95, green otherwise.
func complianceStyle(score float64) lipgloss.Style {
	switch {
	case score < 0.80:
		return complianceBad
	case score < 0.95:
		return complianceWarn
	default:
		return complianceGood
	}
}

func fmtAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

// renderAgentTable renders the fleet as a table, or the guidance line
// when there is nothing to show.
func renderAgentTable(infos []agent.Info, window time.Duration, includeStale, color bool) string {
	return renderTable(infos, nil, window, includeStale, color)
}

// renderWatchTable is renderAgentTable plus a delta column computed
// against the previous snapshot.
func renderWatchTable(infos []agent.Info, prev *lru.Cache[string, agent.Info], window time.Duration, includeStale, color bool) string {
	return renderTable(infos, prev, window, includeStale, color)
}

func renderTable(infos []agent.Info, prev *lru.Cache[string, agent.Info], window time.Duration, includeStale, color bool) string {
	if len(infos) == 0 {
		if includeStale {
			return "No agents found."
		}
		return paint("No active agents found. Terminated or stale agents may exist; use --stale.", hintStyle, color)
	}

	now := time.Now()
	headers := []string{"AGENT", "STATUS", "TICKET", "TOKENS", "CHANNEL", "AGE"}
	withDelta := prev != nil
	if withDelta {
		headers = append(headers, "DELTA")
	}

	type row struct {
		cells  []string
		status agent.Status
		stale  bool
	}
	rows := make([]row, 0, len(infos))
	for _, info := range infos {
		ticket := info.ActiveTicket
		if ticket == "" {
			ticket = "-"
		}
		channel := info.Channel
		if channel == "" {
			channel = "-"
		}
		cells := []string{
			info.Label,
			string(info.Status),
			ticket,
			fmt.Sprintf("%d", info.TokensUsed.Total()),
			channel,
			fmtAge(now.Sub(info.LastUpdated)),
		}
		if withDelta {
			cells = append(cells, snapshotDelta(prev, info))
		}
		rows = append(rows, row{cells: cells, status: info.Status, stale: info.StaleAfter(now, window)})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r.cells {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}

	var b strings.Builder
	head := make([]string, len(headers))
	for i, h := range headers {
		head[i] = pad(h, widths[i])
	}
	b.WriteString(paint(strings.Join(head, "  "), headerStyle, color))
	b.WriteByte('\n')

	for _, r := range rows {
		padded := make([]string, len(r.cells))
		for i, c := range r.cells {
			padded[i] = pad(c, widths[i])
		}
		var line string
		if r.stale {
			line = paint(strings.Join(padded, "  "), staleStyle, color)
		} else {
			padded[1] = paint(padded[1], statusStyles[r.status], color)
			if withDelta {
				padded[len(padded)-1] = paint(padded[len(padded)-1], deltaStyle, color)
			}
			line = strings.Join(padded, "  ")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// snapshotDelta summarizes what changed for one agent since the last
// frame and refreshes the cache entry.
func snapshotDelta(prev *lru.Cache[string, agent.Info], info agent.Info) string {
	old, seen := prev.Get(info.Label)
	prev.Add(info.Label, info)
	if !seen {
		return "new"
	}
	var parts []string
	if d := info.TokensUsed.Total() - old.TokensUsed.Total(); d > 0 {
		parts = append(parts, fmt.Sprintf("+%d tok", d))
	}
	if old.Status != info.Status {
		parts = append(parts, string(old.Status)+" -> "+string(info.Status))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// renderDetail renders one agent inspection with its selected sections.
func renderDetail(d *agent.Detail, window time.Duration, color bool) string {
	info := d.Info
	now := time.Now()
	var b strings.Builder

	b.WriteString(paint(info.Label, headerStyle, color))
	b.WriteString("  ")
	b.WriteString(paint(string(info.Status), statusStyles[info.Status], color))
	if info.StaleAfter(now, window) {
		b.WriteString("  ")
		b.WriteString(paint("(stale)", staleStyle, color))
	}
	b.WriteByte('\n')

	writeField := func(name, value string) {
		fmt.Fprintf(&b, "  %-14s %s\n", name, value)
	}
	writeField("last update", fmt.Sprintf("%s (%s ago)",
		info.LastUpdated.Local().Format(time.DateTime), fmtAge(now.Sub(info.LastUpdated))))
	if info.Channel != "" {
		writeField("channel", info.Channel)
	}
	if info.ActiveTicket != "" {
		writeField("ticket", info.ActiveTicket)
	}
	writeField("tokens", fmt.Sprintf("%d", info.TokensUsed.Total()))
	if info.CustomCodeRatio > 0 {
		writeField("custom code", fmt.Sprintf("%.0f%%", info.CustomCodeRatio*100))
	}

	if d.Tokens != nil {
		b.WriteString(paint("\nTOKENS\n", headerStyle, color))
		fmt.Fprintf(&b, "  prompt %d, completion %d, total %d\n",
			d.Tokens.Prompt, d.Tokens.Completion, d.Tokens.Total())
	}

	if d.Compliance != nil {
		b.WriteString(paint("\nPACKAGES\n", headerStyle, color))
		if len(d.Compliance) == 0 {
			b.WriteString("  no compliance reports\n")
		} else {
			names := make([]string, 0, len(d.Compliance))
			for name := range d.Compliance {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				score := d.Compliance[name]
				fmt.Fprintf(&b, "  %-20s %s\n", name,
					paint(fmt.Sprintf("%.2f", score), complianceStyle(score), color))
			}
		}
	}

	if d.ToolLog != nil {
		b.WriteString(paint("\nTOOL LOG\n", headerStyle, color))
		if len(d.ToolLog) == 0 {
			b.WriteString("  no tool calls recorded\n")
		} else {
			for _, tc := range d.ToolLog {
				outcome := tc.Outcome
				if outcome == "" {
					outcome = "-"
				}
				fmt.Fprintf(&b, "  %s  %-20s %s\n",
					tc.Timestamp.Local().Format("15:04:05"), tc.Tool, outcome)
			}
		}
	}

	if d.Tickets != nil {
		b.WriteString(paint("\nTICKETS\n", headerStyle, color))
		if len(d.Tickets) == 0 {
			b.WriteString("  no ticket history\n")
		} else {
			for _, rec := range d.Tickets {
				state := "open"
				if rec.CompletedAt != nil {
					state = "completed " + rec.CompletedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(&b, "  %-16s assigned %s  %s\n",
					rec.Ticket, rec.AssignedAt.Local().Format(time.DateTime), state)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// printJSON writes indented JSON for scripting.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
