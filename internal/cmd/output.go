package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/harrison/plugintest/internal/executor"
)

// printClassification lists which fixture files would be verified as text,
// as binary, and which would only be staged.
func printClassification(w io.Writer, text, binary, staged []string) {
	cyan := color.New(color.FgCyan, color.Bold)

	sections := []struct {
		title string
		names []string
	}{
		{"Text files", text},
		{"Binary files", binary},
		{"Staged only", staged},
	}
	for _, s := range sections {
		cyan.Fprintf(w, "%s (%d):\n", s.title, len(s.names))
		if len(s.names) == 0 {
			fmt.Fprintln(w, "  (none)")
			continue
		}
		for _, name := range s.names {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

// printVerdict writes the one-line verdict banner.
func printVerdict(w io.Writer, result *executor.RunResult) {
	verdict := result.Verdict()
	var c *color.Color
	switch verdict {
	case "PASS":
		c = color.New(color.FgGreen, color.Bold)
	case "FAIL":
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.FgYellow, color.Bold)
	}

	c.Fprint(w, verdict)
	fmt.Fprintf(w, " %s (%s)", result.Request.Action, result.Request.FixtureDir)
	if failed := result.FailedFiles(); len(failed) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(failed, ", "))
	} else if result.Err != nil {
		fmt.Fprintf(w, ": %s phase failed", result.FailedPhase)
	}
	fmt.Fprintln(w)
}
