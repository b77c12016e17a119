package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/supabase/hostaudit/internal/runner"
	"github.com/supabase/hostaudit/pkg/types"
)

// UseColor reports whether f is a terminal and NO_COLOR is unset.
func UseColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// TextReporter outputs run results in human-readable format
type TextReporter struct {
	w    io.Writer
	opts Options

	bold, green, red, yellow, gray *color.Color
	box                            lipgloss.Style
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer, opts Options) *TextReporter {
	r := &TextReporter{
		w:      w,
		opts:   opts,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		gray:   color.New(color.FgHiBlack),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1),
	}
	for _, c := range []*color.Color{r.bold, r.green, r.red, r.yellow, r.gray} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	if opts.Color {
		r.box = r.box.BorderForeground(lipgloss.Color("63"))
	}
	return r
}

// Report writes the run result to the output
//
//nolint:errcheck // Output errors are not actionable for a text reporter
func (r *TextReporter) Report(result *runner.Result) error {
	fmt.Fprintf(r.w, "\n%s\n", r.bold.Sprintf("hostaudit %s results", result.Mode))
	fmt.Fprintf(r.w, "%s\n\n", strings.Repeat("=", 50))

	if result.Hostname != "" {
		fmt.Fprintf(r.w, "Host: %s (%s)\n", result.Hostname, result.OS)
	} else {
		fmt.Fprintf(r.w, "OS:   %s\n", result.OS)
	}
	fmt.Fprintf(r.w, "Run:  %s\n\n", result.RunID)

	fmt.Fprintln(r.w, r.box.Render(r.summary(result)))
	fmt.Fprintln(r.w)

	if len(result.Rules) == 0 {
		fmt.Fprintf(r.w, "%s\n", r.green.Sprint("No rules ran."))
	} else {
		fmt.Fprintf(r.w, "%s\n", r.bold.Sprint("Rules:"))
		fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 50))
		for _, rr := range result.Rules {
			r.printRule(result.Mode, rr)
		}
		fmt.Fprintln(r.w)
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(r.w, "%s\n", r.bold.Sprint("Warnings:"))
		for _, w := range result.Warnings {
			fmt.Fprintf(r.w, "  - %s\n", r.yellow.Sprint(w))
		}
		fmt.Fprintln(r.w)
	}

	if result.Aborted {
		fmt.Fprintf(r.w, "%s\n", r.red.Sprint("Run aborted; remaining rules were not processed."))
	}
	return nil
}

func (r *TextReporter) summary(result *runner.Result) string {
	s := result.Summary
	lines := []string{fmt.Sprintf("Rules run:     %d", s.Total)}
	if result.Mode == types.ModeUndo {
		lines = append(lines,
			fmt.Sprintf("Undone:        %d", s.Undone),
			fmt.Sprintf("Undo failed:   %d", s.UndoFailed),
		)
	} else {
		lines = append(lines,
			fmt.Sprintf("Compliant:     %d", s.Compliant),
			fmt.Sprintf("Not compliant: %d", s.NonCompliant),
		)
		if result.Mode == types.ModeFix {
			lines = append(lines,
				fmt.Sprintf("Fixed:         %d", s.Fixed),
				fmt.Sprintf("Fix failed:    %d", s.FixFailed),
				fmt.Sprintf("Skipped:       %d", s.Skipped),
			)
		}
	}
	lines = append(lines, fmt.Sprintf("Errors:        %d", s.Errors))
	return strings.Join(lines, "\n")
}

//nolint:errcheck // Output errors are not actionable for a text reporter
func (r *TextReporter) printRule(mode types.Mode, rr runner.RuleResult) {
	fmt.Fprintf(r.w, "%5d  %-40s %s\n", rr.Number, rr.Name, r.colorStatus(Status(mode, rr)))
	for _, e := range rr.Errors {
		fmt.Fprintf(r.w, "       %s %s\n", r.red.Sprint("error:"), firstLine(e))
	}
	if r.opts.Detailed {
		for _, d := range rr.Details {
			for _, line := range strings.Split(d, "\n") {
				fmt.Fprintf(r.w, "       %s\n", r.gray.Sprint(line))
			}
		}
	}
}

func (r *TextReporter) colorStatus(s string) string {
	switch s {
	case "COMPLIANT", "FIXED", "UNDONE":
		return r.green.Sprint(s)
	case "NOT COMPLIANT", "NOT RUN":
		return r.yellow.Sprint(s)
	default:
		return r.red.Sprint(s)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
