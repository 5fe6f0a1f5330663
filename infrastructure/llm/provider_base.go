package llm

import (
	"strings"

	"github.com/ahrav/go-arena/internal/domain"
)

// DefaultMaxTokens is used when a request sets no limit and the provider
// requires one.
const DefaultMaxTokens = 1024

// charsPerToken approximates English text for token estimation.
const charsPerToken = 4

// baseProvider holds the configured model shared by every provider.
type baseProvider struct {
	model string
}

// Model returns the configured model name.
func (b *baseProvider) Model() string { return b.model }

// resolveModel returns the request model or falls back to the configured one.
func (b *baseProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return b.model
}

// maxTokens returns the request limit or DefaultMaxTokens.
func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

// EstimateTokens approximates a token count from text length.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// tokenCount returns actual when the provider reported usage, otherwise an
// estimate from text.
func tokenCount(actual int, text string) int {
	if actual > 0 {
		return actual
	}
	return EstimateTokens(text)
}

// isAssistantTurn reports whether a history turn came from a model.
func isAssistantTurn(t domain.Turn) bool {
	switch strings.ToLower(t.Role) {
	case "assistant", "model":
		return true
	default:
		return false
	}
}

// promptText joins history and prompt for token estimation.
func promptText(req Request) string {
	if len(req.History) == 0 && req.System == "" {
		return req.Prompt
	}
	var b strings.Builder
	b.WriteString(req.System)
	for _, t := range req.History {
		b.WriteString(t.Content)
	}
	b.WriteString(req.Prompt)
	return b.String()
}
