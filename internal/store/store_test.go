package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trialscribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)

	n, err := NewChunkRepository(s).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChunkRepository_ReplaceAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewChunkRepository(s)

	chunks := []Chunk{
		{Source: "guide.md#consent", Content: "Informed consent and withdrawal rights.", Words: 6},
		{Source: "guide.md#safety", Content: "Adverse event reporting and risk mitigation.", Words: 6},
	}
	terms := map[int][]TermStat{
		0: {{Term: "consent", Freq: 1}, {Term: "withdrawal", Freq: 1}},
		1: {{Term: "risk", Freq: 1}, {Term: "mitigation", Freq: 1}},
	}
	require.NoError(t, repo.Replace(ctx, chunks, terms))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := repo.TermStats(ctx, []string{"consent", "risk"})
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	ids := []int64{stats[0].ChunkID}
	got, err := repo.Get(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Source)
}

func TestChunkRepository_ReplaceClearsOldIndex(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewChunkRepository(s)

	require.NoError(t, repo.Replace(ctx,
		[]Chunk{{Source: "old.md#1", Content: "old", Words: 1}},
		map[int][]TermStat{0: {{Term: "old", Freq: 1}}}))
	require.NoError(t, repo.Replace(ctx,
		[]Chunk{{Source: "new.md#1", Content: "new", Words: 1}},
		map[int][]TermStat{0: {{Term: "new", Freq: 1}}}))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := repo.TermStats(ctx, []string{"old"})
	require.NoError(t, err)
	assert.Empty(t, stats, "old terms must be gone after replace")
}

func TestChunkRepository_TermStats_EmptyQuery(t *testing.T) {
	s := openTestStore(t)
	stats, err := NewChunkRepository(s).TermStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewRunRepository(s)

	run := &Run{Task: "Write a Protocol Synopsis paragraph.", Model: "anthropic:claude-3-5-sonnet-20241022"}
	require.NoError(t, repo.Create(ctx, run))
	require.NotEmpty(t, run.ID)

	require.NoError(t, repo.AppendEvent(ctx, &RunEvent{
		RunID:   run.ID,
		State:   "retrieve",
		Changed: map[string]string{"context": "- [1] (guide.md) ..."},
	}))
	require.NoError(t, repo.AppendEvent(ctx, &RunEvent{
		RunID: run.ID,
		State: "draft",
	}))

	require.NoError(t, repo.Finish(ctx, run.ID, "final draft text", 2, 1))

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "final draft text", runs[0].FinalDraft)
	assert.Equal(t, 2, runs[0].Iterations)
	assert.Equal(t, 1, runs[0].IssueCount)
	assert.False(t, runs[0].FinishedAt.IsZero())

	events, err := repo.Events(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "retrieve", events[0].State)
	assert.Equal(t, "- [1] (guide.md) ...", events[0].Changed["context"])
	assert.Equal(t, "draft", events[1].State)
	assert.Nil(t, events[1].Changed)
}

func TestRunRepository_Events_InsertionOrderWithinSameInstant(t *testing.T) {
	// A full run's transitions land inside one wall-clock instant, so
	// replay must not depend on timestamps at all.
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewRunRepository(s)

	run := &Run{Task: "Write a Protocol Synopsis paragraph."}
	require.NoError(t, repo.Create(ctx, run))

	ts := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	states := []string{"retrieve", "draft", "check", "revise", "check", "end"}
	for _, state := range states {
		require.NoError(t, repo.AppendEvent(ctx, &RunEvent{
			RunID:     run.ID,
			Timestamp: ts,
			State:     state,
		}))
	}

	events, err := repo.Events(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, len(states))
	for i, state := range states {
		assert.Equal(t, state, events[i].State, "event %d out of order", i)
	}
}

func TestRunRepository_EventTimestampsKeepSubsecondPrecision(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewRunRepository(s)

	run := &Run{Task: "Write a Protocol Synopsis paragraph."}
	require.NoError(t, repo.Create(ctx, run))

	ts := time.Date(2026, 8, 31, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, repo.AppendEvent(ctx, &RunEvent{RunID: run.ID, Timestamp: ts, State: "retrieve"}))

	events, err := repo.Events(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(ts), "got %v, want %v", events[0].Timestamp, ts)
}

func TestRunRepository_Get(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	repo := NewRunRepository(s)

	run := &Run{Task: "Write a Protocol Synopsis paragraph.", Model: "anthropic:claude-3-5-sonnet-20241022"}
	require.NoError(t, repo.Create(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Task, got.Task)
	assert.Equal(t, run.Model, got.Model)

	_, err = repo.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestRunRepository_Create_RequiresTask(t *testing.T) {
	s := openTestStore(t)
	err := NewRunRepository(s).Create(context.Background(), &Run{})
	assert.Error(t, err)
}

func TestRunRepository_Finish_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := NewRunRepository(s).Finish(context.Background(), "missing", "x", 0, 0)
	assert.Error(t, err)
}
