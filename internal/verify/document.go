package verify

import (
	"context"

	"github.com/sells-group/paper-cli/internal/model"
)

// TextSource resolves a paper name to its converted text.
type TextSource interface {
	ConvertedText(ctx context.Context, name string) (model.Document, []byte, error)
}

// DocumentResult pairs a verdict with the document it was checked against.
type DocumentResult struct {
	Document model.Document `json:"document"`
	Claim    string         `json:"claim"`
	Verdict  model.Verdict  `json:"verdict"`
}

// VerifyDocument resolves name through src and verifies claim against the
// document's converted text. Only resolution errors are returned.
func (e *Engine) VerifyDocument(ctx context.Context, src TextSource, name, claim string) (*DocumentResult, error) {
	doc, text, err := src.ConvertedText(ctx, name)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{
		Document: doc,
		Claim:    claim,
		Verdict:  e.Verify(ctx, claim, string(text)),
	}, nil
}
