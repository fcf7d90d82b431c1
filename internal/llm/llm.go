// Package llm provides the text-completion client shared by summarization
// and claim verification.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/paper-cli/internal/resilience"
	"github.com/sells-group/paper-cli/pkg/anthropic"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int64) (string, error)
}

var (
	// ErrMissingKey is returned by a client built without credentials.
	ErrMissingKey = eris.New("llm: no API key configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = eris.New("llm: empty completion")
)

const defaultMaxTokens = 1024

// Config controls the Anthropic-backed client.
type Config struct {
	Model             string
	RequestsPerSecond float64
	FailureThreshold  int
	ResetTimeout      time.Duration
	Temperature       *float64
}

type purposeKey struct{}

// WithPurpose tags calls made with ctx so usage logs can be attributed.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func purposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok && p != "" {
		return p
	}
	return "complete"
}

// New returns an Anthropic-backed client, or one that always fails with
// ErrMissingKey when apiKey is empty.
func New(apiKey string, cfg Config) Client {
	if apiKey == "" {
		return unconfigured{}
	}
	return NewAnthropic(anthropic.NewClient(apiKey), cfg)
}

type unconfigured struct{}

func (unconfigured) Complete(context.Context, string, int64) (string, error) {
	return "", ErrMissingKey
}

// AnthropicClient is safe for concurrent use. Requests are paced by a token
// bucket and guarded by a circuit breaker that only counts transient errors.
type AnthropicClient struct {
	api     anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewAnthropic wraps an Anthropic API client.
func NewAnthropic(api anthropic.Client, cfg Config) *AnthropicClient {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &AnthropicClient{
		api:     api,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "anthropic",
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		}),
	}
}

// Complete sends prompt as a single user message and returns the trimmed
// text of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "llm: rate limiter")
	}

	req := anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	}
	resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.api.CreateMessage(ctx, req)
		if err != nil {
			return nil, classify(err)
		}
		return resp, nil
	})
	if err != nil {
		return "", err
	}

	resp.Usage.LogCost(c.cfg.Model, purposeFrom(ctx))

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classify marks provider responses that may succeed later as transient.
// Anthropic uses 529 for overload, so every 5xx counts.
func classify(err error) error {
	status, ok := anthropic.StatusCode(err)
	if !ok {
		return eris.Wrap(err, "llm: anthropic request")
	}
	wrapped := eris.Wrapf(err, "llm: anthropic returned %d", status)
	if resilience.IsTransientHTTPStatus(status) || status >= 500 {
		return resilience.NewTransientError(wrapped, status)
	}
	return wrapped
}
