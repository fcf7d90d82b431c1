package model

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is one logical source paper. It is immutable once registered.
type Document struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"source_path"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// NewDocument builds a Document for the file at path, deriving its ID from
// the filename stem.
func NewDocument(path string, discoveredAt time.Time) Document {
	return Document{
		ID:           DocumentID(path),
		SourcePath:   path,
		DiscoveredAt: discoveredAt.UTC(),
	}
}

// DocumentID derives the stable identifier for a source file: the filename
// stem, NFKD-normalized with combining marks removed, lower-cased, with every
// run of characters outside [a-z0-9._] collapsed into a single "-".
func DocumentID(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, stem)
	if err != nil {
		folded = stem
	}
	folded = strings.ToLower(folded)

	var sb strings.Builder
	sep := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			if sep && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			sep = false
			sb.WriteRune(r)
		default:
			sep = true
		}
	}
	return strings.Trim(sb.String(), "-._")
}
