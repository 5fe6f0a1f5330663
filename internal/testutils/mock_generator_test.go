package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/ports"
)

func TestMockGenerator_Generate(t *testing.T) {
	errDown := errors.New("backend down")
	m := NewMockGenerator().
		Set("openai/a", ContenderBehavior{Text: "fixed", TokensIn: 3, TokensOut: 7}).
		Fail("google/c", errDown)

	tests := []struct {
		name      string
		contender string
		want      ports.Generation
		wantErr   error
	}{
		{name: "configured text", contender: "openai/a", want: ports.Generation{Text: "fixed", TokensIn: 3, TokensOut: 7}},
		{name: "default text", contender: "anthropic/b", want: ports.Generation{Text: "anthropic/b says: hello"}},
		{name: "configured failure", contender: "google/c", wantErr: errDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Generate(context.Background(), tt.contender, "hello", ports.GenerateOptions{MaxTokens: 10})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Len(t, m.Calls(), 3)
	assert.Equal(t, 10, m.Calls()[0].Options.MaxTokens)
	assert.Equal(t, []string{"anthropic/b", "google/c", "openai/a"}, m.Contenders())
}

func TestMockGenerator_DelayHonorsContext(t *testing.T) {
	m := NewMockGenerator().Set("slow/x", ContenderBehavior{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Generate(ctx, "slow/x", "p", ports.GenerateOptions{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMockGenerator_TracksConcurrency(t *testing.T) {
	m := NewMockGenerator()
	for _, id := range []string{"a/1", "b/2", "c/3"} {
		m.Set(id, ContenderBehavior{Delay: 50 * time.Millisecond})
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a/1", "b/2", "c/3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Generate(context.Background(), id, "p", ports.GenerateOptions{})
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, m.PeakConcurrency())
	assert.Equal(t, 1, m.CallCount("b/2"))

	m.Reset()
	assert.Empty(t, m.Calls())
	assert.Zero(t, m.PeakConcurrency())
}
