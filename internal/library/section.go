package library

import "strings"

// ExtractSection returns the part of a markdown document that starts at the
// first heading containing name (case-insensitive) and ends before the next
// heading of level one or two.
func ExtractSection(text, name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}

	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if headingLevel(line) > 0 && strings.Contains(strings.ToLower(line), needle) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if lvl := headingLevel(lines[i]); lvl > 0 && lvl <= 2 {
			end = i
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n"), true
}

// headingLevel returns the ATX heading level of line, or 0.
func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n < len(line) && line[n] != ' ' && line[n] != '\t' {
		return 0
	}
	return n
}

// Clip shortens text to limit runes, appending marker when it cut anything.
func Clip(text string, limit int, marker string) string {
	if limit <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + marker
}
