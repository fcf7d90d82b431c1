package verify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/paper-cli/internal/model"
)

type field int

const (
	fieldNone field = iota
	fieldVerified
	fieldConfidence
	fieldQuote
	fieldNotes
)

var labels = []struct {
	name  string
	field field
}{
	{"VERIFIED", fieldVerified},
	{"CONFIDENCE", fieldConfidence},
	{"QUOTE", fieldQuote},
	{"NOTES", fieldNotes},
}

// DefaultConfidence is used when the confidence line is missing or not a
// number.
const DefaultConfidence = 0.5

// Parse reads the four-line verdict grammar. Labels are matched only at
// the start of a line and only in order, so a label inside a value is
// never taken for a field. Text before the VERIFIED line is ignored and
// NOTES runs to the end of the reply.
func Parse(raw string) model.Verdict {
	values := make(map[field][]string, 4)
	current := fieldNone

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if current != fieldNotes {
			if f, value, ok := matchLabel(line, current); ok {
				current = f
				values[f] = []string{value}
				continue
			}
		}
		if current != fieldNone {
			values[current] = append(values[current], line)
		}
	}

	v := model.Verdict{Raw: raw, Confidence: DefaultConfidence}

	verdictText, ok := values[fieldVerified]
	if !ok {
		return parseFailure(raw, "no VERIFIED line")
	}
	kind, ok := parseVerdictToken(verdictText[0])
	if !ok {
		return parseFailure(raw, fmt.Sprintf("unrecognized verdict %q", strings.TrimSpace(verdictText[0])))
	}
	v.Verdict = kind

	if c, ok := values[fieldConfidence]; ok {
		v.Confidence = parseConfidence(c[0])
	}
	if q, ok := values[fieldQuote]; ok {
		v.Quote = parseQuote(strings.Join(q, "\n"))
	}
	if n, ok := values[fieldNotes]; ok {
		v.Notes = strings.TrimSpace(strings.Join(n, "\n"))
	}
	return v
}

func parseFailure(raw, reason string) model.Verdict {
	return model.Verdict{
		Verdict:    model.VerdictInconclusive,
		Confidence: 0,
		Notes:      fmt.Sprintf("parse error: %s; raw response: %s", reason, strings.TrimSpace(raw)),
		Raw:        raw,
	}
}

// matchLabel recognizes "LABEL: value" for any field after current; before
// VERIFIED only VERIFIED counts. Leading markdown (bullets, headings,
// emphasis) is ignored.
func matchLabel(line string, current field) (field, string, bool) {
	s := strings.TrimLeft(strings.TrimSpace(line), "*_#>- \t")
	upper := strings.ToUpper(s)
	for _, l := range labels {
		if l.field <= current || (current == fieldNone && l.field != fieldVerified) {
			continue
		}
		if !strings.HasPrefix(upper, l.name) {
			continue
		}
		rest := strings.TrimLeft(s[len(l.name):], "*_ \t")
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		value := strings.TrimLeft(rest[1:], "*_ \t")
		return l.field, value, true
	}
	return fieldNone, "", false
}

func parseVerdictToken(s string) (model.VerdictKind, bool) {
	t := strings.ToUpper(strings.Trim(strings.TrimSpace(s), "*_\"'`.!"))
	switch {
	case strings.HasPrefix(t, "NOT VERIFIED"), strings.HasPrefix(t, "NOT SUPPORTED"):
		return model.VerdictRefuted, true
	}

	word := t
	if i := strings.IndexFunc(t, func(r rune) bool { return r < 'A' || r > 'Z' }); i >= 0 {
		word = t[:i]
	}
	switch word {
	case "YES", "VERIFIED", "TRUE", "SUPPORTED":
		return model.VerdictVerified, true
	case "NO", "REFUTED", "FALSE", "UNSUPPORTED":
		return model.VerdictRefuted, true
	case "PARTIAL", "PARTIALLY", "UNCLEAR", "INCONCLUSIVE":
		return model.VerdictInconclusive, true
	default:
		return "", false
	}
}

// parseConfidence accepts "0.92", "92%" or "0.92 (high)". Values outside
// [0,1] are clamped; anything else yields DefaultConfidence.
func parseConfidence(s string) float64 {
	s = strings.Trim(strings.TrimSpace(s), "*_")
	if fields := strings.Fields(s); len(fields) > 0 {
		s = strings.TrimRight(fields[0], ".,;")
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultConfidence
	}
	if percent {
		f /= 100
	}
	return min(max(f, 0), 1)
}

var quotePlaceholders = map[string]bool{
	"":            true,
	"none":        true,
	"none found":  true,
	"n/a":         true,
	"na":          true,
	"no quote":    true,
	"not found":   true,
	"no relevant": true,
}

func parseQuote(s string) *string {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "*_"))
	s = strings.TrimSpace(trimQuotes(s))
	if quotePlaceholders[strings.ToLower(strings.TrimRight(s, "."))] {
		return nil
	}
	return &s
}

func trimQuotes(s string) string {
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}, {"`", "`"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return s[len(pair[0]) : len(s)-len(pair[1])]
		}
	}
	return s
}
