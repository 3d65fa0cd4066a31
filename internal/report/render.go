package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	erroredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// StatusStyle returns the style used to render a status.
func StatusStyle(s Status) lipgloss.Style {
	switch s {
	case Passed:
		return passedStyle
	case Failed:
		return failedStyle
	default:
		return erroredStyle
	}
}

// Render writes a human-readable table of the report followed by the
// diagnostics of every non-passing environment.
func Render(w io.Writer, r Report) error {
	idWidth := len("ENVIRONMENT")
	for _, o := range r.Outcomes {
		idWidth = max(idWidth, len(o.EnvironmentID))
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s  %-8s  %10s", idWidth, "ENVIRONMENT", "STATUS", "DURATION")))
	b.WriteString("\n")
	for _, o := range r.Outcomes {
		status := StatusStyle(o.Status).Render(fmt.Sprintf("%-8s", strings.ToUpper(o.Status.String())))
		fmt.Fprintf(&b, "%-*s  %s  %10s\n", idWidth, o.EnvironmentID, status, o.Duration.Round(time.Millisecond))
	}

	if diags := nonPassingDiagnostics(r); len(diags) > 0 {
		b.WriteString("\n")
		for _, d := range diags {
			b.WriteString(dimStyle.Render("  " + d))
			b.WriteString("\n")
		}
	}

	counts := r.Counts()
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s  %d passed, %d failed, %d errored\n",
		StatusStyle(r.Overall).Render(strings.ToUpper(r.Overall.String())),
		counts[Passed], counts[Failed], counts[Errored])

	_, err := io.WriteString(w, b.String())
	return err
}

func nonPassingDiagnostics(r Report) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Status == Passed {
			continue
		}
		if len(o.Diagnostics) == 0 {
			out = append(out, fmt.Sprintf("%s: %s (%s)", o.EnvironmentID, o.Status, o.Cause))
			continue
		}
		for _, d := range o.Diagnostics {
			out = append(out, o.EnvironmentID+": "+d)
		}
	}
	return out
}
