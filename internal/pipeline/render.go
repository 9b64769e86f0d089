package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
)

// Renderer writes readiness reports as JSON or Markdown
type Renderer struct{}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// WriteJSON encodes the report as indented JSON
func (r *Renderer) WriteJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteMarkdown renders the report for people
func (r *Renderer) WriteMarkdown(w io.Writer, report *model.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Petition readiness: %s\n\n", report.Project)
	if report.Applicant != "" {
		fmt.Fprintf(&b, "**Applicant:** %s  \n", report.Applicant)
	}
	fmt.Fprintf(&b, "**Stage:** %s  \n", report.Stage)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04 MST"))

	fmt.Fprintf(&b, "## Score\n\n")
	fmt.Fprintf(&b, "**Readiness index:** %d/100 (confidence: %s)  \n", report.Score.Index, report.Score.Confidence)
	fmt.Fprintf(&b, "**Standards with evidence:** %d of %d (%d required)\n\n", report.Score.Met, len(report.Standards), model.MinStandardsMet)

	if len(report.Score.Signals) > 0 {
		fmt.Fprintf(&b, "### Signals\n\n")
		for _, s := range report.Score.Signals {
			fmt.Fprintf(&b, "- %s **%s**: %s\n", severityIcon(s.Severity), s.Type, s.Description)
		}
		b.WriteString("\n")
	}

	titles := make(map[string]string, len(report.Arguments))
	for _, a := range report.Arguments {
		titles[a.ID] = a.Title
	}

	fmt.Fprintf(&b, "## Standards\n\n")
	fmt.Fprintf(&b, "| Standard | Strength | Arguments | Evidence |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	for _, c := range report.Standards {
		var args []string
		for _, id := range c.Arguments {
			if t := titles[id]; t != "" {
				args = append(args, t)
			} else {
				args = append(args, id)
			}
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			escapeCell(c.Standard.Name), c.Strength,
			escapeCell(orDash(strings.Join(args, "; "))),
			escapeCell(orDash(strings.Join(c.Locations, "; "))))
	}
	b.WriteString("\n")

	if len(report.Arguments) > 0 {
		fmt.Fprintf(&b, "## Arguments\n\n")
		for _, a := range report.Arguments {
			fmt.Fprintf(&b, "- **%s** (%s, %s, %d snippets)", a.Title, a.Status, a.Decision, len(a.SnippetIDs))
			if a.StandardKey != "" {
				fmt.Fprintf(&b, " → %s", a.StandardKey)
			}
			if a.Conflict != nil {
				fmt.Fprintf(&b, " ⚠️ mixes %s and %s", a.Conflict.Existing, a.Conflict.Incoming)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(report.Coverage) > 0 {
		fmt.Fprintf(&b, "## Citation coverage\n\n")
		for _, c := range report.Coverage {
			fmt.Fprintf(&b, "- %s: %d of %d sentences cited (%.0f%%)\n", c.SectionID, c.Cited, c.Sentences, c.Coverage*100)
		}
		b.WriteString("\n")
	}

	if len(report.UnusedSnippets) > 0 {
		fmt.Fprintf(&b, "## Unused evidence\n\n")
		for _, id := range report.UnusedSnippets {
			fmt.Fprintf(&b, "- %s\n", id)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderJSON writes the JSON report to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteJSON(w, report) })
}

// RenderMarkdown writes the Markdown report to path
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteMarkdown(w, report) })
}

// RenderSummary prints a short summary to w
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n%s (%s)\n", report.Project, report.Stage)
	fmt.Fprintf(w, "Readiness: %d/100 (confidence: %s)\n", report.Score.Index, report.Score.Confidence)
	fmt.Fprintf(w, "Standards with evidence: %d/%d\n", report.Score.Met, len(report.Standards))
	for _, s := range report.Score.Signals {
		if s.Severity != model.SeverityInfo {
			fmt.Fprintf(w, "  %s %s\n", severityIcon(s.Severity), s.Description)
		}
	}
}

func writeFile(path string, render func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func severityIcon(s model.SignalSeverity) string {
	switch s {
	case model.SeverityCritical:
		return "🔴"
	case model.SeverityWarning:
		return "🟡"
	}
	return "ℹ️"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
