package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// mockUsage provides a mock structure for token usage information in test responses.
type mockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// mockContent provides a mock structure for content blocks in test responses.
type mockContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// mockResponse provides a mock structure for a successful API response in tests.
type mockResponse struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Content    []mockContent `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason"`
	Usage      mockUsage     `json:"usage"`
}

// mockErrorResponse provides a mock structure for an error response in tests.
type mockErrorResponse struct {
	Type  string    `json:"type"`
	Error mockError `json:"error"`
}

// mockError provides a mock structure for error details in test responses.
type mockError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func anthropicMessage(usage mockUsage, texts ...string) mockResponse {
	content := make([]mockContent, 0, len(texts))
	for _, text := range texts {
		content = append(content, mockContent{Type: "text", Text: text})
	}
	return mockResponse{
		ID:         "msg_test_id",
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      AnthropicDefaultModel,
		StopReason: "end_turn",
		Usage:      usage,
	}
}

func newAnthropicTestServer(t *testing.T, status int, body any, inspect func(map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		if inspect != nil {
			var reqBody map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			inspect(reqBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

// TestNewAnthropicProvider tests the creation of a new Anthropic provider.
// It covers various scenarios, including valid and invalid configurations.
func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantModel   string
		expectError bool
	}{
		{
			name:      "valid config with all fields",
			config:    Config{APIKey: "test-api-key", Model: "claude-sonnet-4-0", BaseURL: "https://api.anthropic.com", Timeout: 10 * time.Second},
			wantModel: "claude-sonnet-4-0",
		},
		{
			name:      "valid config with minimal fields",
			config:    Config{APIKey: "test-api-key"},
			wantModel: AnthropicDefaultModel,
		},
		{
			name:        "empty API key",
			config:      Config{},
			expectError: true,
		},
		{
			name:        "invalid base url",
			config:      Config{APIKey: "test-api-key", BaseURL: "://nope"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := newAnthropicProvider(tt.config)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, provider.Model())
		})
	}
}

// TestAnthropicProvider_Generate_Success tests a request carrying history,
// a system prompt and sampling options.
func TestAnthropicProvider_Generate_Success(t *testing.T) {
	var body map[string]any
	server := newAnthropicTestServer(t, http.StatusOK,
		anthropicMessage(mockUsage{InputTokens: 10, OutputTokens: 20}, "First part. ", "Second part."),
		func(b map[string]any) { body = b })

	provider, err := newAnthropicProvider(Config{APIKey: "test-api-key", BaseURL: server.URL})
	require.NoError(t, err)

	hot := 1.8
	out, err := provider.Generate(context.Background(), Request{
		Prompt:      "Test",
		System:      "Be terse.",
		Temperature: &hot,
		History: []domain.Turn{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "First part. Second part.", out.Text, "text blocks should be concatenated")
	assert.Equal(t, 10, out.TokensIn)
	assert.Equal(t, 20, out.TokensOut)

	assert.Equal(t, AnthropicDefaultModel, body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"], "max_tokens is required by the API")
	assert.InDelta(t, MaxAnthropicTemperature, body["temperature"], 0.001, "temperature is clamped to the Anthropic range")

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)
	roles := make([]string, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
	assert.NotNil(t, body["system"])
}

// TestAnthropicProvider_Generate_Errors tests HTTP error classification.
func TestAnthropicProvider_Generate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		wantIs  error
		wantMsg string
	}{
		{"auth error", http.StatusUnauthorized, "authentication_error", ports.ErrAuthenticationFailed, "anthropic authentication failed"},
		{"rate limit error", http.StatusTooManyRequests, "rate_limit_error", ports.ErrRateLimited, "anthropic rate limit exceeded"},
		{"overloaded", http.StatusServiceUnavailable, "overloaded_error", ports.ErrServiceUnavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newAnthropicTestServer(t, tt.status, mockErrorResponse{
				Type:  "error",
				Error: mockError{Type: tt.errType, Message: "failure"},
			}, nil)

			provider, err := newAnthropicProvider(Config{APIKey: "test-api-key", BaseURL: server.URL})
			require.NoError(t, err)

			out, err := provider.Generate(context.Background(), Request{Prompt: "Test"})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, out.Text)
		})
	}
}

// TestAnthropicProvider_Generate_ContextCancellation tests the handling of
// context cancellation during a request.
func TestAnthropicProvider_Generate_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicMessage(mockUsage{InputTokens: 5, OutputTokens: 5}, "Response"))
	}))
	defer server.Close()

	provider, err := newAnthropicProvider(Config{APIKey: "test-api-key", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = provider.Generate(ctx, Request{Prompt: "Test"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

// TestAnthropicProvider_Generate_TokenFallback tests the token estimation
// fallback when the response carries no usage counts.
func TestAnthropicProvider_Generate_TokenFallback(t *testing.T) {
	server := newAnthropicTestServer(t, http.StatusOK, anthropicMessage(mockUsage{}, "12345678"), nil)

	provider, err := newAnthropicProvider(Config{APIKey: "test-api-key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := provider.Generate(context.Background(), Request{Prompt: "abcd"})

	require.NoError(t, err)
	assert.Equal(t, 1, out.TokensIn)
	assert.Equal(t, 2, out.TokensOut)
}

func TestAnthropicProvider_Generate_EmptyContent(t *testing.T) {
	server := newAnthropicTestServer(t, http.StatusOK, anthropicMessage(mockUsage{InputTokens: 1}), nil)

	provider, err := newAnthropicProvider(Config{APIKey: "test-api-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), Request{Prompt: "Test"})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}
