package cli

import (
	"fmt"
	"io"

	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/engine"
)

// DisplayDiagnostics renders a batch of compiler diagnostics, one per
// line, in file:line:col order.
func DisplayDiagnostics(w io.Writer, file string, diags []diag.Diagnostic, useColor bool) {
	for _, d := range diags {
		sev := Colorize(d.Severity.String(), severityColor(d.Severity), useColor)
		loc := Colorize(fmt.Sprintf("%s:%s", file, d.Span), ColorCyan, useColor)
		code := Colorize("["+d.Code+"]", ColorGray, useColor)
		fmt.Fprintf(w, "%s: %s: %s %s\n", loc, sev, d.Message, code)
	}
}

func severityColor(s diag.Severity) string {
	if s == diag.Warning {
		return ColorYellow
	}
	return ColorRed
}

// DisplayFragments prints narrative output. Thread output is prefixed
// and dimmed so it reads apart from the main storyline.
func DisplayFragments(w io.Writer, frags []engine.Fragment, useColor bool) {
	for _, f := range frags {
		if f.ThreadID == engine.MainThreadID {
			fmt.Fprintln(w, f.Text)
			continue
		}
		prefix := Colorize(fmt.Sprintf("[thread %d] ", f.ThreadID), ColorGray, useColor)
		fmt.Fprintf(w, "%s%s\n", prefix, Colorize(f.Text, ColorGray, useColor))
	}
}

// DisplayChoices prints the pending choice menu with 1-based numbering
// for the player; the engine itself indexes from 0.
func DisplayChoices(w io.Writer, choices []engine.PendingChoice, useColor bool) {
	for _, c := range choices {
		num := Colorize(fmt.Sprintf("%d)", c.Index+1), ColorGreen, useColor)
		label := c.Label
		if label == "" {
			label = c.Target
		}
		marker := ""
		if c.Once {
			marker = Colorize(" (once)", ColorGray, useColor)
		}
		fmt.Fprintf(w, "  %s %s%s\n", num, label, marker)
	}
}
