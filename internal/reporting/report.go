// Package reporting writes run results as JSON, JUnit XML, or a terminal
// summary table.
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-runewidth"

	"github.com/spboyer/typecheck-runner/internal/runner"
)

// Report is the JSON document written by --output.
type Report struct {
	Timestamp string         `json:"timestamp"`
	State     runner.State   `json:"state"`
	ExitCode  int            `json:"exit_code"`
	Results   []ResultReport `json:"results"`
}

// ResultReport is one checker in a Report.
type ResultReport struct {
	Checker    string   `json:"checker"`
	Command    []string `json:"command"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int64    `json:"duration_ms"`
	DryRun     bool     `json:"dry_run,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewReport converts a run summary into its JSON form.
func NewReport(summary *runner.Summary, timestamp time.Time) *Report {
	report := &Report{
		Timestamp: timestamp.Format(time.RFC3339),
		State:     summary.State,
		ExitCode:  summary.ExitCode,
		Results:   make([]ResultReport, 0, len(summary.Results)),
	}
	for _, res := range summary.Results {
		rr := ResultReport{
			Checker:    res.Checker,
			Command:    res.Command,
			ExitCode:   res.ExitCode,
			DurationMs: res.Duration.Milliseconds(),
			DryRun:     res.DryRun,
		}
		if res.Err != nil {
			rr.Error = res.Err.Error()
		}
		report.Results = append(report.Results, rr)
	}
	return report
}

// WriteJSON writes the JSON report to path.
func WriteJSON(summary *runner.Summary, timestamp time.Time, path string) error {
	data, err := json.MarshalIndent(NewReport(summary, timestamp), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// CommandLine renders a result's command as a shell-quoted string.
func CommandLine(res runner.Result) string {
	return shellquote.Join(res.Command...)
}

const (
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// WriteSummary prints one aligned row per checker. ANSI colors are used only
// when color is true.
func WriteSummary(w io.Writer, summary *runner.Summary, color bool) error {
	rows := [][]string{{"CHECKER", "STATUS", "EXIT", "TIME"}}
	for _, res := range summary.Results {
		rows = append(rows, []string{
			res.Checker,
			status(res),
			fmt.Sprintf("%d", res.ExitCode),
			res.Duration.Round(time.Millisecond).String(),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		for i, cell := range row {
			text := cell
			if i < len(row)-1 {
				text = runewidth.FillRight(cell, widths[i]+2)
			}
			if color && r > 0 && i == 1 {
				text = colorize(cell, text)
			}
			b.WriteString(text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%d checker(s), %d failed, exit code %d (%s)\n",
		len(summary.Results), len(summary.Failed()), summary.ExitCode, summary.State)

	_, err := io.WriteString(w, b.String())
	return err
}

func status(res runner.Result) string {
	switch {
	case res.DryRun:
		return "○ dry-run"
	case res.Err != nil:
		return "✗ error"
	case !res.OK():
		return "✗ failed"
	default:
		return "✓ passed"
	}
}

func colorize(status, text string) string {
	code := ansiGreen
	switch {
	case strings.HasPrefix(status, "✗"):
		code = ansiRed
	case strings.HasPrefix(status, "○"):
		code = ansiYellow
	}
	return code + text + ansiReset
}
