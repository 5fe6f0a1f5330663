package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockBackend provides a configurable Backend for testing middleware and
// anything built on a Registry. It never holds its lock while sleeping, so
// concurrent callers overlap the way real providers do.
type MockBackend struct {
	mu sync.Mutex

	// Response configuration
	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	ModelName     string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	// Tracking
	CallCount      int
	LastRequest    Request
	LastContext    context.Context
	CallTimestamps []time.Time
}

// errSimulated is returned by FailUntilAttempt when no Error is set.
var errSimulated = errors.New("simulated failure")

// NewMockBackend creates a mock with default successful behavior.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		ModelName: "test-model",
	}
}

// Generate implements Backend with configurable behavior.
func (m *MockBackend) Generate(ctx context.Context, req Request) (Completion, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastRequest = req
	m.LastContext = ctx
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay, failUntil, cfgErr := m.ResponseDelay, m.FailUntilAttempt, m.Error
	out := Completion{Text: m.Response, TokensIn: m.TokensIn, TokensOut: m.TokensOut}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}

	if failUntil > 0 {
		if call <= failUntil {
			if cfgErr != nil {
				return Completion{}, cfgErr
			}
			return Completion{}, errSimulated
		}
		return out, nil
	}

	if cfgErr != nil {
		return Completion{}, cfgErr
	}
	return out, nil
}

// Model returns the configured model name.
func (m *MockBackend) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ModelName
}

// SetError changes the configured error under the lock.
func (m *MockBackend) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
}

// GetCallCount returns the number of times Generate was called.
func (m *MockBackend) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Last returns the most recent request and context.
func (m *MockBackend) Last() (Request, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest, m.LastContext
}
