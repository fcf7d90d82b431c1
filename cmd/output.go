package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// renderMarkdown formats md for the terminal.
func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", eris.Wrap(err, "create markdown renderer")
	}
	out, err := r.Render(md)
	if err != nil {
		return "", eris.Wrap(err, "render markdown")
	}
	return out, nil
}

func printMarkdown(w io.Writer, md string, render bool) error {
	if render {
		out, err := renderMarkdown(md)
		if err != nil {
			return err
		}
		md = out
	}
	_, err := io.WriteString(w, md)
	if err == nil && !strings.HasSuffix(md, "\n") {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

func printRunReport(w io.Writer, r *model.RunReport) {
	fmt.Fprintf(w, "%s\n", r.DocumentID)
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-10s %-14s", o.Stage, o.State)
		if o.FailureKind != model.FailureNone {
			line += fmt.Sprintf(" [%s]", o.FailureKind)
		}
		if o.Error != "" {
			line += " " + o.Error
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	if r.Err != "" {
		fmt.Fprintf(w, "  aborted: %s\n", r.Err)
	}
}

// finishBatch prints every run and a summary line, and returns an error when
// any run failed so the command exits non-zero.
func finishBatch(w io.Writer, b *model.BatchReport) error {
	for i := range b.Runs {
		printRunReport(w, &b.Runs[i])
	}
	failed := b.Failed()
	fmt.Fprintf(w, "\n%d document(s) processed, %d with failures\n", len(b.Runs), len(failed))
	if len(failed) > 0 {
		return eris.Errorf("%d document(s) had failed stages", len(failed))
	}
	return nil
}

func statusMark(s model.ArtifactStatus) string {
	switch s {
	case model.ArtifactDone:
		return "✓"
	case model.ArtifactFailed:
		return "✗"
	case model.ArtifactSkipped:
		return "-"
	default:
		return " "
	}
}
