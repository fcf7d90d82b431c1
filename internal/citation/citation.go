// Package citation extracts citation keys from LaTeX sources and checks
// them against a BibTeX file.
package citation

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"

	"github.com/sells-group/paper-cli/internal/model"
)

var (
	citePattern   = regexp.MustCompile(`\\cite[pt]?\*?(?:\[[^\]]*\])*\{([^}]+)\}`)
	bibKeyPattern = regexp.MustCompile(`@\w+\s*\{\s*([^,\s]+)\s*,`)
)

// contextLines is how many lines around a citation are kept on each side.
const contextLines = 2

// Extract returns every citation in src, one per key, in source order.
func Extract(file string, src string) []model.Citation {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	var out []model.Citation
	for i, line := range lines {
		matches := citePattern.FindAllStringSubmatch(stripComment(line), -1)
		if len(matches) == 0 {
			continue
		}
		lo := max(0, i-contextLines)
		hi := min(len(lines), i+contextLines+1)
		ctx := strings.Join(lines[lo:hi], "\n")
		for _, m := range matches {
			for _, key := range strings.Split(m[1], ",") {
				if key = strings.TrimSpace(key); key != "" {
					out = append(out, model.Citation{Key: key, Context: ctx, File: file, Line: i + 1})
				}
			}
		}
	}
	return out
}

// stripComment drops a LaTeX comment, leaving escaped \% alone.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '%' && (i == 0 || line[i-1] != '\\') {
			return line[:i]
		}
	}
	return line
}

// ExtractDir walks dir for .tex files and extracts their citations. Files
// are visited in lexical path order.
func ExtractDir(dir string) ([]model.Citation, error) {
	files, err := doublestar.Glob(os.DirFS(dir), "**/*.tex")
	if err != nil {
		return nil, eris.Wrapf(err, "citation: glob %s", dir)
	}
	slices.Sort(files)

	var out []model.Citation
	for _, rel := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "citation: read %s", path)
		}
		out = append(out, Extract(path, string(b))...)
	}
	return out, nil
}

// BibKeys returns the entry keys of a BibTeX file. A missing file yields an
// empty set.
func BibKeys(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if eris.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, eris.Wrapf(err, "citation: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	keys := make(map[string]bool)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		for _, m := range bibKeyPattern.FindAllStringSubmatch(sc.Text(), -1) {
			if !strings.HasPrefix(strings.ToLower(m[0]), "@comment") {
				keys[m[1]] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "citation: read %s", path)
	}
	return keys, nil
}

// Finding is one citation and whether its key is defined.
type Finding struct {
	model.Citation
	InBib bool   `json:"bib_exists"`
	Notes string `json:"notes,omitempty"`
}

// Report is the outcome of a citation check.
type Report struct {
	BibEntries int       `json:"bib_entries"`
	Findings   []Finding `json:"findings"`
}

// Missing returns the findings whose key is not in the bibliography.
func (r *Report) Missing() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.InBib {
			out = append(out, f)
		}
	}
	return out
}

// Check extracts citations under texDir and looks each key up in bibPath.
func Check(texDir, bibPath string) (*Report, error) {
	keys, err := BibKeys(bibPath)
	if err != nil {
		return nil, err
	}
	cites, err := ExtractDir(texDir)
	if err != nil {
		return nil, err
	}

	r := &Report{BibEntries: len(keys), Findings: make([]Finding, 0, len(cites))}
	for _, c := range cites {
		f := Finding{Citation: c, InBib: keys[c.Key]}
		if !f.InBib {
			f.Notes = "citation key not found in .bib file"
		}
		r.Findings = append(r.Findings, f)
	}
	return r, nil
}
