package anthropic

import (
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
		{Role: "", Content: "defaults to user"},
	})
	assert.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestMessageResponse_Text(t *testing.T) {
	r := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "VERIFIED: YES\n"},
		{Type: "thinking", Text: "hidden"},
		{Type: "text", Text: "CONFIDENCE: 0.9"},
	}}
	assert.Equal(t, "VERIFIED: YES\nCONFIDENCE: 0.9", r.Text())
}

func TestEstimateCost_Sonnet(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000}
	assert.InDelta(t, 3.00+1.50, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.0001)
}

func TestEstimateCost_Haiku(t *testing.T) {
	u := TokenUsage{InputTokens: 500_000, OutputTokens: 0}
	assert.InDelta(t, 0.50, u.EstimateCost("claude-haiku-4-5-20251001"), 0.0001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Zero(t, u.EstimateCost("gpt-x"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10, OutputTokens: 5}.LogCost("claude-sonnet-4-5-20250929", "summarize")
	})
}

func TestStatusCode_NotAPIError(t *testing.T) {
	_, ok := StatusCode(errors.New("dial tcp: connection refused"))
	assert.False(t, ok)
}
