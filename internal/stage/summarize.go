package stage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/llm"
	"github.com/sells-group/paper-cli/internal/model"
)

// DefaultPrompt asks for the five summary sections. {content} is replaced
// with the converted text.
const DefaultPrompt = `Summarize this academic paper concisely. Include:

1. **Main Contribution**: What's the key innovation/finding? (2-3 sentences)
2. **Method**: How did they do it? (2-3 sentences)
3. **Results**: Key quantitative results or findings
4. **Relevance**: What problems does this solve? Who should read this?
5. **Citation**: Suggested BibTeX key (format: authorYYYYkeyword)

Be concise but precise. Use technical language appropriate for a PhD thesis.

---

PAPER CONTENT:

{content}
`

// TruncationMarker is appended to input cut at the character budget.
const TruncationMarker = "\n\n[TRUNCATED]"

// Summarize asks the LLM for a structured summary of the converted text.
type Summarize struct {
	LLM            llm.Client
	Model          string
	MaxTokens      int64
	MaxInputChars  int
	PromptTemplate string
	Timeout        time.Duration
	Now            func() time.Time
}

func (s *Summarize) Stage() model.Stage { return model.StageSummarize }
func (s *Summarize) Depends() []model.Stage { return []model.Stage{model.StageConvert} }

func (s *Summarize) Run(ctx context.Context, doc model.Document, in Input) Result {
	if in.ReadContent == nil {
		return failed(model.FailurePermanent, eris.New("summarize: no converted text reader"))
	}
	text, err := in.ReadContent(ctx, model.StageConvert)
	if err != nil {
		return failed(model.FailurePermanent, eris.Wrapf(err, "summarize: read converted text for %s", doc.ID))
	}

	input, truncated := Truncate(string(text), s.MaxInputChars)
	if truncated {
		zap.L().Info("summarize: input truncated",
			zap.String("document", doc.ID),
			zap.Int("max_input_chars", s.MaxInputChars),
		)
	}

	tmpl := s.PromptTemplate
	if tmpl == "" {
		tmpl = DefaultPrompt
	}
	prompt := strings.ReplaceAll(tmpl, "{content}", input)

	ctx, cancel := withTimeout(llm.WithPurpose(ctx, "summarize"), s.Timeout)
	defer cancel()

	reply, err := s.LLM.Complete(ctx, prompt, s.MaxTokens)
	switch {
	case errors.Is(err, llm.ErrMissingKey):
		return skipped(err)
	case errors.Is(err, llm.ErrEmptyResponse):
		return failed(model.FailureParse, err)
	case err != nil:
		return failedFrom(ctx, err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	content, structured, err := RenderSummary(SummaryHeader{
		Document:   doc.ID,
		Source:     doc.SourcePath,
		Model:      s.Model,
		Truncated:  truncated,
		InputChars: len([]rune(input)),
		ProducedAt: now().UTC().Truncate(time.Second),
	}, reply)
	if err != nil {
		return failed(model.FailurePermanent, err)
	}
	if !structured {
		zap.L().Warn("summarize: reply had no section labels", zap.String("document", doc.ID))
	}

	return done(content, "", map[string]string{
		"model":      s.Model,
		"truncated":  strconv.FormatBool(truncated),
		"structured": strconv.FormatBool(structured),
	})
}

// Truncate cuts s to at most limit characters and appends
// TruncationMarker. A non-positive limit disables truncation.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker, true
		}
		n++
	}
	return s, false
}
