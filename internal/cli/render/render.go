// Package render holds the terminal-coloring helpers swarmctl uses to
// print task/event/severity output: status glyphs (✓/✗/⚠) colored by
// fatih/color attribute, kept as a handful of small functions for the
// plain non-interactive subcommands.
package render

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Status prints a glyph + message line to w, colored by attr.
func Status(w io.Writer, symbol, message string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// OK prints a green check-marked line.
func OK(w io.Writer, message string) { Status(w, "✓", message, color.FgGreen) }

// Warn prints a yellow warning-marked line.
func Warn(w io.Writer, message string) { Status(w, "⚠", message, color.FgYellow) }

// Fail prints a red cross-marked line.
func Fail(w io.Writer, message string) { Status(w, "✗", message, color.FgRed) }

// SeverityColor maps an event Severity to the color attribute swarmctl
// watch uses to render it, from calm (Info) to alarming (Critical).
func SeverityColor(s swarmmodel.Severity) color.Attribute {
	switch s {
	case swarmmodel.SeverityWarning:
		return color.FgYellow
	case swarmmodel.SeverityError:
		return color.FgRed
	case swarmmodel.SeverityCritical:
		return color.FgHiRed
	default:
		return color.FgCyan
	}
}

// Severity renders sev colorized, e.g. for a table column.
func Severity(sev swarmmodel.Severity) string {
	return color.New(SeverityColor(sev)).Sprint(string(sev))
}

// TaskStatusColor maps a TaskStatus to a display color: terminal-success green,
// terminal-failure red, in-flight yellow, everything else default.
func TaskStatusColor(s swarmmodel.TaskStatus) color.Attribute {
	switch s {
	case swarmmodel.TaskComplete:
		return color.FgGreen
	case swarmmodel.TaskFailed, swarmmodel.TaskCancelled:
		return color.FgRed
	case swarmmodel.TaskRunning:
		return color.FgYellow
	default:
		return color.FgWhite
	}
}

// TaskStatus renders a task status colorized.
func TaskStatus(s swarmmodel.TaskStatus) string {
	return color.New(TaskStatusColor(s)).Sprint(string(s))
}
