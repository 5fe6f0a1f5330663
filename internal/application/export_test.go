package application

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/infrastructure/store"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
	"github.com/ahrav/go-arena/internal/testutils"
)

// seedExportSessions plays one completed tournament and three battles:
// a decisive round, a tie and a round against a failed contender; battles
// voted left, both_bad and not at all.
func seedExportSessions(t *testing.T, f *arenaFixture) {
	t.Helper()
	ctx := context.Background()
	f.generator.Fail("openai/d", ports.ErrServiceUnavailable)

	start, err := f.manager.Start(ctx, StartRequest{Message: "q"})
	require.NoError(t, err)
	for _, choice := range []string{"left", "tie", "left"} {
		_, err := f.manager.SubmitChoice(ctx, start.SessionID, choice)
		require.NoError(t, err)
	}

	_, err = f.manager.Start(ctx, StartRequest{Message: "still playing"})
	require.NoError(t, err)

	voted, err := f.manager.StartBattle(ctx, BattleRequest{Message: "joke", Left: "openai/a", Right: "openai/c"})
	require.NoError(t, err)
	_, err = f.manager.VoteBattle(ctx, voted.ID, "left")
	require.NoError(t, err)

	bad, err := f.manager.StartBattle(ctx, BattleRequest{Message: "poem", Left: "openai/b", Right: "openai/c"})
	require.NoError(t, err)
	_, err = f.manager.VoteBattle(ctx, bad.ID, "both_bad")
	require.NoError(t, err)

	_, err = f.manager.StartBattle(ctx, BattleRequest{Message: "unvoted", Left: "openai/a", Right: "openai/b"})
	require.NoError(t, err)
}

func decodeLines[T any](t *testing.T, out string) []T {
	t.Helper()
	var rows []T
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var row T
		require.NoError(t, json.Unmarshal([]byte(line), &row), "line %q", line)
		rows = append(rows, row)
	}
	return rows
}

func TestExportTrainingData_DPO(t *testing.T) {
	f := newArenaFixture(t, ManagerOptions{})
	seedExportSessions(t, f)

	var buf bytes.Buffer
	n, err := f.manager.ExportTrainingData(context.Background(), FormatDPO, &buf)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows := decodeLines[dpoRecord](t, buf.String())
	assert.ElementsMatch(t, []dpoRecord{
		{Prompt: "q", Chosen: testutils.DefaultText("openai/a", "q"), Rejected: testutils.DefaultText("openai/b", "q")},
		{Prompt: "joke", Chosen: testutils.DefaultText("openai/a", "joke"), Rejected: testutils.DefaultText("openai/c", "joke")},
	}, rows)
	assert.Contains(t, f.logs.String(), "training data exported")
}

func TestExportTrainingData_Pairwise(t *testing.T) {
	f := newArenaFixture(t, ManagerOptions{})
	seedExportSessions(t, f)

	var buf bytes.Buffer
	n, err := f.manager.ExportTrainingData(context.Background(), FormatPairwise, &buf)

	require.NoError(t, err)
	require.Equal(t, 2, n)
	rows := decodeLines[pairwiseRecord](t, buf.String())
	require.Len(t, rows, 2)

	bySource := map[string]pairwiseRecord{}
	for _, r := range rows {
		bySource[r.Source] = r
	}
	tour := bySource[SourceTournament]
	assert.Equal(t, "session-1", tour.SessionID)
	assert.Equal(t, 0, tour.Round)
	assert.Equal(t, "openai/a", tour.ChosenModel)
	assert.Equal(t, "openai/b", tour.RejectedModel)
	assert.True(t, tour.At.Equal(testNow))

	battle := bySource[SourceBattle]
	assert.Equal(t, "joke", battle.Prompt)
	assert.Equal(t, "openai/a", battle.ChosenModel)
	assert.Equal(t, "openai/c", battle.RejectedModel)
}

func TestExportTrainingData_SkipsCorruptedSessions(t *testing.T) {
	f := newArenaFixture(t, ManagerOptions{})
	seedExportSessions(t, f)
	ctx := context.Background()
	require.NoError(t, f.backend.Put(ctx, store.NamespaceTournament, "garbage", []byte("{not json")))

	var buf bytes.Buffer
	n, err := f.manager.ExportTrainingData(ctx, FormatDPO, &buf)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, f.logs.String(), "skipping corrupted session")
	assert.Contains(t, f.logs.String(), `"session_id":"garbage"`)
}

func TestExportTrainingData_UnknownFormat(t *testing.T) {
	f := newArenaFixture(t, ManagerOptions{})

	var buf bytes.Buffer
	_, err := f.manager.ExportTrainingData(context.Background(), "csv", &buf)

	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.True(t, domain.IsValidation(err))
	assert.Zero(t, buf.Len())
}

func TestBattlePair(t *testing.T) {
	b, err := domain.NewBattle("b1", "m", "openai/a", "openai/b", nil, testNow)
	require.NoError(t, err)
	b.SetResponse("openai/a", domain.Response{Text: "A"})
	b.SetResponse("openai/b", domain.Response{Text: "B"})

	_, ok := BattlePair(b)
	assert.False(t, ok, "unvoted")

	require.NoError(t, b.Vote(domain.PreferenceRight, testNow))
	p, ok := BattlePair(b)
	require.True(t, ok)
	assert.Equal(t, "openai/b", p.ChosenModel)
	assert.Equal(t, "B", p.Chosen)
	assert.Equal(t, "A", p.Rejected)

	tie, err := domain.NewBattle("b2", "m", "openai/a", "openai/b", nil, testNow)
	require.NoError(t, err)
	tie.SetResponse("openai/a", domain.Response{Text: "A"})
	tie.SetResponse("openai/b", domain.Response{Text: "B"})
	require.NoError(t, tie.Vote(domain.PreferenceTie, testNow))
	_, ok = BattlePair(tie)
	assert.False(t, ok, "ties carry no preference")
}
