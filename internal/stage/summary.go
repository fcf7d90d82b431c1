package stage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SummarySections are the headings every summary carries, in order.
var SummarySections = []string{
	"Main Contribution",
	"Method",
	"Results",
	"Relevance",
	"Citation",
}

// NotReported fills a section the model left out.
const NotReported = "_Not reported._"

// SummaryHeader is the YAML front matter of a summary file.
type SummaryHeader struct {
	Document   string    `yaml:"document"`
	Source     string    `yaml:"source"`
	Model      string    `yaml:"model"`
	Truncated  bool      `yaml:"truncated"`
	InputChars int       `yaml:"input_chars"`
	ProducedAt time.Time `yaml:"produced_at"`
}

// Summary is a parsed summary file.
type Summary struct {
	Header   SummaryHeader
	Sections map[string]string
}

// Section returns the body of a named section.
func (s *Summary) Section(name string) string {
	return s.Sections[name]
}

// RenderSummary builds the summary file from the model's reply. Text is
// assigned to the section whose label opens it; sections with no text get
// NotReported. A reply with no recognizable labels lands in the first
// section so nothing is lost.
func RenderSummary(h SummaryHeader, reply string) ([]byte, bool, error) {
	sections, structured := splitSections(reply)
	if !structured {
		sections[SummarySections[0]] = strings.TrimSpace(reply)
	}

	front, err := yaml.Marshal(h)
	if err != nil {
		return nil, false, eris.Wrap(err, "summarize: encode front matter")
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	fmt.Fprintf(&buf, "# Summary: %s\n\n", h.Document)
	if h.Source != "" {
		fmt.Fprintf(&buf, "> Source: `%s`\n\n", filepath.Base(h.Source))
	}
	for _, name := range SummarySections {
		body := strings.TrimSpace(sections[name])
		if body == "" {
			body = NotReported
		}
		fmt.Fprintf(&buf, "## %s\n\n%s\n\n", name, body)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), structured, nil
}

// ParseSummary reads a file written by RenderSummary. Files without front
// matter are accepted with a zero header.
func ParseSummary(content []byte) (*Summary, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	s := &Summary{Sections: make(map[string]string)}

	if rest, ok := strings.CutPrefix(text, "---\n"); ok {
		front, body, found := strings.Cut(rest, "\n---\n")
		if !found {
			return nil, eris.New("summary: unterminated front matter")
		}
		if err := yaml.Unmarshal([]byte(front), &s.Header); err != nil {
			return nil, eris.Wrap(err, "summary: decode front matter")
		}
		text = body
	}

	var current string
	var sb strings.Builder
	flush := func() {
		if current != "" {
			s.Sections[current] = strings.TrimSpace(sb.String())
		}
		sb.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if name, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = strings.TrimSpace(name)
			continue
		}
		if current != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	flush()
	return s, nil
}

// splitSections assigns reply lines to sections. A line opens a section
// when, after stripping list numbering, heading marks and emphasis, it
// starts with a section name followed by a colon or nothing.
func splitSections(reply string) (map[string]string, bool) {
	out := make(map[string]string, len(SummarySections))
	var current string
	var sb strings.Builder
	structured := false

	flush := func() {
		if current != "" {
			out[current] = strings.TrimSpace(out[current] + "\n" + sb.String())
		}
		sb.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n") {
		if name, rest, ok := matchSectionLabel(line); ok {
			flush()
			current = name
			structured = true
			if rest != "" {
				sb.WriteString(rest)
				sb.WriteByte('\n')
			}
			continue
		}
		if current != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	flush()
	return out, structured
}

func matchSectionLabel(line string) (string, string, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#0123456789.)-• \t")
	s = strings.TrimLeft(s, "*_ ")

	lower := strings.ToLower(s)
	for _, name := range SummarySections {
		if !strings.HasPrefix(lower, strings.ToLower(name)) {
			continue
		}
		rest := s[len(name):]
		rest = strings.TrimLeft(rest, "*_ ")
		switch {
		case rest == "":
			return name, "", true
		case strings.HasPrefix(rest, ":"):
			rest = strings.TrimLeft(rest[1:], "*_ ")
			return name, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}
