package watch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

// Filter recognizes document files by extension and skips names matching
// any ignore glob.
type Filter struct {
	exts   map[string]bool
	ignore []string
}

// NewFilter validates the ignore globs. Extensions are matched
// case-insensitively and may be given with or without the dot.
func NewFilter(extensions, ignore []string) (*Filter, error) {
	f := &Filter{exts: make(map[string]bool, len(extensions))}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f.exts[e] = true
	}
	if len(f.exts) == 0 {
		return nil, eris.New("watch: no recognized extensions")
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, eris.Errorf("watch: invalid ignore pattern %q", p)
		}
		f.ignore = append(f.ignore, p)
	}
	return f, nil
}

// Match reports whether path names a recognized document.
func (f *Filter) Match(path string) bool {
	base := filepath.Base(path)
	if !f.exts[strings.ToLower(filepath.Ext(base))] {
		return false
	}
	for _, p := range f.ignore {
		if ok, _ := doublestar.Match(p, base); ok {
			return false
		}
	}
	return true
}

// Scan lists recognized files directly inside dir, sorted by filename.
func Scan(dir string, f *Filter) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "watch: scan %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !f.Match(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
