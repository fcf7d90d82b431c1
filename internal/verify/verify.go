// Package verify checks a claim against a paper's converted text with the
// LLM and parses the structured verdict.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/llm"
	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/resilience"
)

// Config bounds a verification call.
type Config struct {
	MaxDocChars int
	MaxTokens   int64
	Timeout     time.Duration
	Retry       resilience.RetryConfig
}

// Engine verifies claims. It never caches verdicts.
type Engine struct {
	llm llm.Client
	cfg Config
}

// New creates an Engine.
func New(c llm.Client, cfg Config) *Engine {
	if cfg.MaxDocChars <= 0 {
		cfg.MaxDocChars = 50000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &Engine{llm: c, cfg: cfg}
}

// Verify asks the model whether documentText supports claim. Every failure
// becomes an inconclusive verdict with the cause in Notes.
func (e *Engine) Verify(ctx context.Context, claim, documentText string) model.Verdict {
	prompt := BuildPrompt(claim, documentText, e.cfg.MaxDocChars)

	ctx = llm.WithPurpose(ctx, "verify")
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	retry := e.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("llm", "verify")
	}
	raw, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, prompt, e.cfg.MaxTokens)
	})
	if err != nil {
		zap.L().Warn("verify: completion failed", zap.Error(err))
		return model.Verdict{
			Verdict:    model.VerdictInconclusive,
			Confidence: 0,
			Notes:      fmt.Sprintf("verification failed: %v", err),
		}
	}
	return Parse(raw)
}

// BuildPrompt embeds the claim and at most maxChars characters of the
// document.
func BuildPrompt(claim, documentText string, maxChars int) string {
	text := documentText
	if maxChars > 0 {
		n := 0
		for i := range text {
			if n == maxChars {
				text = text[:i] + "\n\n[TRUNCATED]"
				break
			}
			n++
		}
	}

	var sb strings.Builder
	sb.WriteString("You are verifying a citation in a PhD thesis. Decide whether the paper below supports the claim.\n\n")
	sb.WriteString("CLAIM:\n")
	sb.WriteString(strings.TrimSpace(claim))
	sb.WriteString("\n\nPAPER CONTENT:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nRespond with exactly these four lines, in this order:\n")
	sb.WriteString("VERIFIED: YES | NO | PARTIAL | UNCLEAR\n")
	sb.WriteString("CONFIDENCE: <number between 0.0 and 1.0>\n")
	sb.WriteString("QUOTE: \"<exact quote from the paper>\" or NONE\n")
	sb.WriteString("NOTES: <brief explanation>\n")
	return sb.String()
}
