// Package report renders a run verdict as Markdown or HTML.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/filelock"
	"github.com/harrison/plugintest/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Format selects the report output format.
type Format int

const (
	// FormatMarkdown renders GitHub-flavoured Markdown.
	FormatMarkdown Format = iota
	// FormatHTML renders a standalone HTML page.
	FormatHTML
)

// FormatForPath picks the format from the file extension: .html and .htm
// give HTML, anything else Markdown.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatMarkdown
	}
}

// allPhases lists the pipeline phases in execution order.
var allPhases = []models.Phase{
	models.PhaseClassify,
	models.PhaseStage,
	models.PhaseHost,
	models.PhaseVerify,
}

// Markdown renders result as a Markdown document.
func Markdown(result *executor.RunResult) []byte {
	var b bytes.Buffer
	req := result.Request

	b.WriteString("# plugintest report\n\n")

	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "Run", code(result.ID))
	row(&b, "Result", "**"+result.Verdict()+"**")
	row(&b, "Action", code(req.Action))
	row(&b, "Host", code(req.HostExecutable))
	row(&b, "Fixture directory", code(req.FixtureDir))
	row(&b, "Test directory", code(req.WorkDir))
	row(&b, "Plugin build directory", code(req.PluginBuildDir))
	row(&b, "Text patterns", codeList(req.TextPatterns))
	row(&b, "Binary patterns", codeList(req.BinaryPatterns))
	if !result.StartedAt.IsZero() {
		row(&b, "Started", result.StartedAt.Format(time.RFC3339))
	}
	row(&b, "Duration", result.Duration.Round(time.Millisecond).String())
	b.WriteString("\n")

	b.WriteString("## Phases\n\n")
	b.WriteString("| Phase | Status | Duration |\n|---|---|---|\n")
	for _, p := range allPhases {
		status, duration := phaseStatus(result, p)
		fmt.Fprintf(&b, "| %s | %s | %s |\n", p, status, duration)
	}
	b.WriteString("\n")

	b.WriteString("## Files\n\n")
	if len(result.TextFiles)+len(result.BinaryFiles)+len(result.Staged) == 0 {
		b.WriteString("No fixture files.\n\n")
	} else {
		b.WriteString("| File | Role | Result |\n|---|---|---|\n")
		for _, name := range result.TextFiles {
			fmt.Fprintf(&b, "| %s | text | %s |\n", code(name), fileStatus(result, name))
		}
		for _, name := range result.BinaryFiles {
			fmt.Fprintf(&b, "| %s | binary | %s |\n", code(name), fileStatus(result, name))
		}
		for _, name := range result.Staged {
			fmt.Fprintf(&b, "| %s | staged | |\n", code(name))
		}
		b.WriteString("\n")
	}

	if result.Err != nil {
		b.WriteString("## Failure\n\n")
		fmt.Fprintf(&b, "Failed in the **%s** phase (%s error).\n\n", result.FailedPhase, result.Kind())
		msg := result.Err.Error()
		if models.IsHostError(result.Err) && result.Outcome != nil {
			// The streams follow under Host output
			msg = firstLine(msg)
		}
		fenced(&b, "text", msg)

		for _, diff := range diffs(result.Err) {
			fmt.Fprintf(&b, "### Diff of %s\n\n", code(diff.File))
			fenced(&b, "diff", diff.Diff)
		}
	}

	if o := result.Outcome; o != nil {
		b.WriteString("## Host output\n\n")
		fmt.Fprintf(&b, "Exit code %d after %s.\n\n", o.ExitCode, o.Duration.Round(time.Millisecond))
		if o.TimedOut {
			fmt.Fprintf(&b, "The host was killed after the timeout of %s.\n\n", o.Timeout)
		}
		b.WriteString("### Standard output\n\n")
		fenced(&b, "text", o.Stdout)
		b.WriteString("### Standard error\n\n")
		fenced(&b, "text", o.Stderr)
	}

	return b.Bytes()
}

// HTML renders result as a standalone HTML page.
func HTML(result *executor.RunResult) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))

	var body bytes.Buffer
	if err := md.Convert(Markdown(result), &body); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>plugintest %s: %s</title>\n", html.EscapeString(result.Verdict()), html.EscapeString(result.Request.Action))
	b.WriteString("<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}pre{background:#f6f8fa;padding:1em;overflow:auto}</style>\n")
	b.WriteString("</head>\n<body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body>\n</html>\n")
	return b.Bytes(), nil
}

// Render renders result in the given format.
func Render(result *executor.RunResult, format Format) ([]byte, error) {
	if format == FormatHTML {
		return HTML(result)
	}
	return Markdown(result), nil
}

// Write renders result in the format implied by path and writes it
// atomically, so a reader never sees a half-written report.
func Write(path string, result *executor.RunResult) error {
	data, err := Render(result, FormatForPath(path))
	if err != nil {
		return err
	}
	if err := filelock.LockAndWrite(path, data); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

func phaseStatus(result *executor.RunResult, p models.Phase) (string, string) {
	d, ran := result.PhaseDuration(p)
	if !ran {
		return "skipped", ""
	}
	duration := d.Round(time.Millisecond).String()
	if result.Err != nil && result.FailedPhase == p {
		return "failed", duration
	}
	return "ok", duration
}

func fileStatus(result *executor.RunResult, name string) string {
	for _, f := range result.Files {
		if f.Name != name {
			continue
		}
		if f.Passed() {
			return "match"
		}
		var missing *models.MissingFileError
		if errors.As(f.Err, &missing) {
			return "missing " + missing.Side.String()
		}
		if models.IsMismatchError(f.Err) {
			return "mismatch"
		}
		return "error"
	}
	return "not checked"
}

// diffs collects the mismatches carrying a diff, including those joined
// together by keep-going verification.
func diffs(err error) []*models.MismatchError {
	var out []*models.MismatchError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if m, ok := e.(*models.MismatchError); ok {
			if m.Diff != "" {
				out = append(out, m)
			}
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

func row(b *bytes.Buffer, field, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", field, value)
}

// code renders s as inline code safe inside a table cell.
func code(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

func codeList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = code(item)
	}
	return strings.Join(parts, ", ")
}

// fenced writes content as a fenced code block whose fence is longer than
// any backtick run inside it.
func fenced(b *bytes.Buffer, lang, content string) {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	b.WriteString(fence + lang + "\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence + "\n\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
