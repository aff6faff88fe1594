package reporting

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/results"
)

var severityLabels = map[schemas.Severity]string{
	schemas.SeverityPass:   "PASS",
	schemas.SeverityFail:   "FAIL",
	schemas.SeverityWarn:   "WARN",
	schemas.SeverityNotice: "NOTE",
	schemas.SeverityInfo:   "INFO",
	schemas.SeveritySkip:   "SKIP",
}

// TextReporter writes a human-readable summary per result.
type TextReporter struct {
	writer io.WriteCloser
}

// NewTextReporter creates a text reporter that owns writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

// Write renders result immediately.
func (r *TextReporter) Write(result *schemas.ScanResult) error {
	return RenderText(r.writer, result)
}

// Close closes the underlying writer.
func (r *TextReporter) Close() error {
	return r.writer.Close()
}

// RenderText writes a summary of result to w: the health line, a table of all
// checks in priority order and the remediation for every actionable check.
func RenderText(w io.Writer, result *schemas.ScanResult) error {
	if result == nil {
		_, err := fmt.Fprintln(w, "No scan result.")
		return err
	}
	h := result.Health
	var b strings.Builder
	fmt.Fprintf(&b, "Page:    %s\n", result.PageURL)
	fmt.Fprintf(&b, "Scanned: %s\n", result.ScannedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if v := result.Payload.Version.DetectedString(); v != "" {
		fmt.Fprintf(&b, "SDK:     %s", v)
		if l := result.Payload.Version.LatestString(); l != "" {
			fmt.Fprintf(&b, " (latest %s)", l)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Health:  %d/100 (%s) - %d passing, %d failing, %d warnings of %d scored\n\n",
		h.Score, h.Tier, h.Passing, h.Failing, h.Warnings, h.Total)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range results.Prioritize(result.Checks) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", severityLabels[c.Severity], c.ID, c.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	actionable := results.Actionable(result.Checks)
	if len(actionable) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	b.Reset()
	b.WriteString("\nRecommendations:\n")
	for _, c := range actionable {
		fmt.Fprintf(&b, "\n[%s] %s\n", severityLabels[c.Severity], c.Title)
		if c.Detail != "" {
			fmt.Fprintf(&b, "  %s\n", c.Detail)
		}
		if c.Remediation != "" {
			fmt.Fprintf(&b, "  Fix: %s\n", c.Remediation)
		}
		if c.DocsURL != "" {
			fmt.Fprintf(&b, "  Docs: %s\n", c.DocsURL)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
