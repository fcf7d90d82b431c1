package model

// VerdictKind is the categorical outcome of a claim verification.
type VerdictKind string

const (
	VerdictVerified     VerdictKind = "verified"
	VerdictRefuted      VerdictKind = "refuted"
	VerdictInconclusive VerdictKind = "inconclusive"
)

// Verdict is the result of checking one claim against one document's text.
// A nil Quote means no supporting quote was found.
type Verdict struct {
	Verdict    VerdictKind `json:"verdict"`
	Confidence float64     `json:"confidence"`
	Quote      *string     `json:"quote"`
	Notes      string      `json:"notes"`
	Raw        string      `json:"raw,omitempty"`
}

// Citation is a reference key found in author text together with the lines
// around it.
type Citation struct {
	Key     string `json:"key"`
	Context string `json:"context"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}
