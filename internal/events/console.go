package events

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
)

var (
	stateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("14")).
			Padding(0, 1)
)

// ConsoleSink renders each transition as a styled panel for humans
// following a run.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a console sink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Emit renders the event. Write errors are swallowed.
func (s *ConsoleSink) Emit(ev Event) {
	body := stateStyle.Render(ev.State)

	// Stable field order keeps output readable across runs.
	keys := make([]string, 0, len(ev.Changed))
	for k := range ev.Changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body += "\n" + fieldStyle.Render(k+": ") + ev.Changed[k]
	}

	_, _ = fmt.Fprintln(s.w, panelStyle.Render(body))
}
