package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	waitingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	infoStyle = lipgloss.NewStyle().
			Faint(true)
)

// channels indexes channel definitions by ID for display.
type channels map[string]channel.Channel

func indexChannels(list []channel.Channel) channels {
	m := make(channels, len(list))
	for _, c := range list {
		m[c.ID] = c
	}
	return m
}

// name renders the display name of id in the channel's color.
func (cs channels) name(id string) string {
	c, ok := cs[id]
	if !ok {
		return id
	}
	style := lipgloss.NewStyle()
	if c.Color != "" {
		style = style.Foreground(lipgloss.Color(c.Color))
	}
	return style.Render(c.DisplayName())
}

func statusStyle(s process.Status) lipgloss.Style {
	switch s {
	case process.Running:
		return runningStyle
	case process.Waiting:
		return waitingStyle
	default:
		return stoppedStyle
	}
}

// pad right-pads s to width visible cells.
func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// renderStatus prints one row per record.
func renderStatus(w io.Writer, cs channels, recs []process.RecordInfo, now time.Time) {
	header := []string{"CHANNEL", "STATUS", "PID", "STARTED", "EXIT"}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		pid, started, exit := "-", "-", "-"
		if rec.PID > 0 {
			pid = strconv.Itoa(rec.PID)
		}
		if rec.Status == process.Running && !rec.StartedAt.IsZero() {
			started = since(rec.StartedAt, now)
		}
		if rec.Status == process.Stopped && rec.ExitCode >= 0 {
			exit = strconv.Itoa(rec.ExitCode)
		}
		rows = append(rows, []string{
			cs.name(rec.ChannelID),
			statusStyle(rec.Status).Render(rec.Status.String()),
			pid,
			started,
			exit,
		})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = pad(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	styled := make([]string, len(header))
	for i, h := range header {
		styled[i] = headerStyle.Render(h)
	}
	line(styled)
	for _, row := range rows {
		line(row)
	}
}

// formatLine renders a log line for the terminal.
func formatLine(cs channels, l output.LogLine, timestamps bool) string {
	msg := output.PlainText(l.Message)
	switch l.Kind {
	case output.KindError:
		msg = errorStyle.Render(msg)
	case output.KindInfo:
		msg = infoStyle.Render(msg)
	}

	prefix := "[" + cs.name(l.ChannelID) + "]"
	if timestamps {
		prefix = l.Time.Local().Format("15:04:05.000") + " " + prefix
	}
	return prefix + " " + msg
}

// formatEvent renders a status transition.
func formatEvent(cs channels, ev process.StatusEvent) string {
	s := fmt.Sprintf("%s %s %s",
		ev.Time.Local().Format("15:04:05"),
		cs.name(ev.ChannelID),
		statusStyle(ev.Status).Render(ev.Status.String()))
	if ev.PID > 0 {
		s += fmt.Sprintf(" (pid %d)", ev.PID)
	}
	return s
}

// renderResults prints the outcome of a group operation.
func renderResults(w io.Writer, cs channels, results []coordinator.Result) {
	for _, r := range results {
		var state string
		switch {
		case r.Skipped:
			state = stoppedStyle.Render("skipped")
		case r.OK:
			state = runningStyle.Render("ok")
		case r.Error != "":
			state = errorStyle.Render("failed: " + r.Error)
		default:
			state = waitingStyle.Render("not started")
		}
		fmt.Fprintf(w, "%s %s\n", cs.name(r.ChannelID), state)
	}
}

// since renders how long ago t was, for example "3 minutes ago".
func since(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
