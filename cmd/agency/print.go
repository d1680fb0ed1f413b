package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/GoCodeAlone/agency/agent"
	"github.com/GoCodeAlone/agency/task"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

func taskStatusColor(s task.Status) *color.Color {
	switch s {
	case task.StatusCompleted:
		return green
	case task.StatusFailed:
		return red
	case task.StatusInProgress:
		return cyan
	default:
		return yellow
	}
}

func agentStatusColor(s agent.Status) *color.Color {
	switch s {
	case agent.StatusIdle:
		return green
	case agent.StatusWorking:
		return cyan
	case agent.StatusError:
		return red
	default:
		return yellow
	}
}

// pad left-justifies s to width before coloring so escape codes don't skew columns.
func pad(s string, width int) string {
	return fmt.Sprintf("%-*s", width, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
