// Package ui provides console output for pyramid-launcher
package ui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jrepp/pyramid-fleet/pkg/controller"
)

// Styles for consistent UI
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// UI writes human-facing output. Logs go through slog; this is for results.
type UI struct {
	out io.Writer
	err io.Writer
}

// NewUI creates a UI on stdout and stderr
func NewUI() *UI {
	return NewUIWithWriters(os.Stdout, os.Stderr)
}

// NewUIWithWriters creates a UI on the given writers
func NewUIWithWriters(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

// Out returns the writer results are printed to
func (ui *UI) Out() io.Writer {
	return ui.out
}

// Success prints a success message
func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

// Error prints an error message
func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

// Warning prints a warning message
func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

// Info prints an info message
func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render("ℹ "+msg))
}

// Subtle prints a muted message
func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

// Println prints a regular message
func (ui *UI) Println(msg string) {
	fmt.Fprintln(ui.out, msg)
}

// Header prints a section header
func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

// KeyValue prints a key-value pair
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Outcome reports the result of a stop, restart or signal request
func (ui *UI) Outcome(op, target string, accepted bool) {
	if accepted {
		ui.Success(fmt.Sprintf("%s %s: accepted", op, target))
		return
	}
	ui.Warning(fmt.Sprintf("%s %s: not accepted", op, target))
}

// FleetStatus renders one row per target
func (ui *UI) FleetStatus(statuses []controller.Status) {
	ui.Header("Fleet status")
	t := ui.NewTable("TARGET", "STATE", "PID", "UPTIME", "ENDPOINTS")
	for _, st := range statuses {
		t.AddRow(st.ID, state(st), pid(st), uptime(st), endpoints(st))
	}
	t.Render()
}

func state(st controller.Status) string {
	switch {
	case st.Alive:
		return "alive"
	case st.Tracked:
		return "unhealthy"
	default:
		return "down"
	}
}

func pid(st controller.Status) string {
	if !st.Tracked {
		return "-"
	}
	return strconv.Itoa(st.Pid)
}

func uptime(st controller.Status) string {
	if !st.Tracked || st.StartedAt.IsZero() {
		return "-"
	}
	return time.Since(st.StartedAt).Truncate(time.Second).String()
}

func endpoints(st controller.Status) string {
	parts := make([]string, 0, len(st.Endpoints))
	for _, ep := range st.Endpoints {
		mark := "down"
		if ep.Alive {
			mark = "up"
		}
		parts = append(parts, ep.Address+" "+mark)
	}
	return strings.Join(parts, ", ")
}

// Table prints a simple table
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

// NewTable creates a new table
func (ui *UI) NewTable(headers ...string) *Table {
	return &Table{
		ui:      ui,
		headers: headers,
		rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	headerParts := make([]string, len(t.headers))
	for i, header := range t.headers {
		headerParts[i] = padRight(header, widths[i])
	}
	t.ui.Println(headerStyle.Render(strings.Join(headerParts, " │ ")))

	separatorParts := make([]string, len(widths))
	for i, width := range widths {
		separatorParts[i] = strings.Repeat("─", width)
	}
	t.ui.Println(subtleStyle.Render(strings.Join(separatorParts, "─┼─")))

	for _, row := range t.rows {
		rowParts := make([]string, len(t.headers))
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			rowParts[i] = padRight(cell, widths[i])
		}
		t.ui.Println(strings.Join(rowParts, " │ "))
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
