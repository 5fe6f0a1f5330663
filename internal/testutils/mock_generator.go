// Package testutils provides deterministic collaborators for arena tests.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-arena/internal/ports"
)

// ContenderBehavior configures how MockGenerator answers for one contender.
type ContenderBehavior struct {
	// Text is returned as the completion. Empty uses DefaultText.
	Text string
	// Err fails every call.
	Err error
	// Delay is waited before answering. The wait ends early if ctx is done,
	// in which case ctx.Err() is returned.
	Delay time.Duration
	// TokensIn and TokensOut are reported on success.
	TokensIn  int
	TokensOut int
}

// Call records one Generate invocation.
type Call struct {
	Contender string
	Prompt    string
	Options   ports.GenerateOptions
	At        time.Time
}

// MockGenerator implements ports.Generator with per-contender behavior. It
// is safe for concurrent use and records every call.
type MockGenerator struct {
	mu        sync.Mutex
	behaviors map[string]ContenderBehavior
	calls     []Call
	inFlight  int
	peak      int
}

// NewMockGenerator returns a generator that answers every contender with
// DefaultText until configured otherwise.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{behaviors: make(map[string]ContenderBehavior)}
}

// DefaultText is the completion for contenders with no configured text.
func DefaultText(contender, prompt string) string {
	return fmt.Sprintf("%s says: %s", contender, prompt)
}

// Set configures the behavior for contender.
func (m *MockGenerator) Set(contender string, b ContenderBehavior) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[contender] = b
	return m
}

// Fail makes every call for contender return err.
func (m *MockGenerator) Fail(contender string, err error) *MockGenerator {
	return m.Set(contender, ContenderBehavior{Err: err})
}

// Generate implements ports.Generator.
func (m *MockGenerator) Generate(ctx context.Context, contender, prompt string, opts ports.GenerateOptions) (ports.Generation, error) {
	m.mu.Lock()
	b := m.behaviors[contender]
	m.calls = append(m.calls, Call{Contender: contender, Prompt: prompt, Options: opts, At: time.Now()})
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ports.Generation{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return ports.Generation{}, err
	}
	if b.Err != nil {
		return ports.Generation{}, b.Err
	}

	text := b.Text
	if text == "" {
		text = DefaultText(contender, prompt)
	}
	return ports.Generation{Text: text, TokensIn: b.TokensIn, TokensOut: b.TokensOut}, nil
}

// Calls returns a copy of every recorded call in arrival order.
func (m *MockGenerator) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many times contender was asked to generate.
func (m *MockGenerator) CallCount(contender string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Contender == contender {
			n++
		}
	}
	return n
}

// Contenders returns the distinct contenders called, sorted.
func (m *MockGenerator) Contenders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range m.calls {
		if !seen[c.Contender] {
			seen[c.Contender] = true
			out = append(out, c.Contender)
		}
	}
	sort.Strings(out)
	return out
}

// PeakConcurrency returns the largest number of calls observed in flight at
// once.
func (m *MockGenerator) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Reset forgets recorded calls but keeps configured behaviors.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.peak = 0
}

var _ ports.Generator = (*MockGenerator)(nil)
