package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoloom/internal/llm"
	"autoloom/internal/session"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func TestStoreRoundTripsHistory(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	created := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, SessionInfo{ID: "s1", Prompt: "Hello", Model: "m", Classifier: "gpt-4o", CreatedAt: created}))

	h := session.NewHistory("Hello")
	e1 := h.Commit("Hello there", 82, created.Add(time.Second))
	e2 := h.Commit("Hello there friend", session.ManualScore, created.Add(2*time.Second))
	require.NoError(t, s.RecordEntry(ctx, "s1", 1, e1))
	require.NoError(t, s.RecordEntry(ctx, "s1", 2, e2))

	loaded, err := s.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", loaded.Original())
	if diff := cmp.Diff(h.Entries(), loaded.Entries()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, loaded.Entries()[1].Manual)
}

func TestStoreDuplicateEntryFails(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	require.NoError(t, s.CreateSession(ctx, SessionInfo{ID: "s1", Prompt: "p"}))
	entry := session.HistoryEntry{Prompt: "p", Result: "r", Score: 1, CommittedAt: time.Now()}
	require.NoError(t, s.RecordEntry(ctx, "s1", 1, entry))
	require.Error(t, s.RecordEntry(ctx, "s1", 1, entry))
}

func TestStoreRoundLog(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	require.NoError(t, s.CreateSession(ctx, SessionInfo{ID: "s1", Prompt: "Hello"}))

	round := &session.Round{
		Number: 1,
		Candidates: []session.Candidate{
			{Index: 0, Text: "a", Score: intPtr(10)},
			{Index: 1, Text: "b", Score: intPtr(90)},
			{Index: 2, Text: llm.RetryMarker(5)},
		},
		ChosenIndex: 1,
	}
	require.NoError(t, s.RecordRound(ctx, "s1", round))

	log, err := s.RoundLog(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, CandidateRecord{Round: 1, Index: 1, Text: "b", Score: intPtr(90), Chosen: true}, log[1])
	assert.Nil(t, log[2].Score)
	assert.False(t, log[0].Chosen)
}

func TestStoreListAndGetSessions(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	base := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, SessionInfo{ID: "old", Prompt: "a", CreatedAt: base}))
	require.NoError(t, s.CreateSession(ctx, SessionInfo{ID: "new", Prompt: "b", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.RecordEntry(ctx, "old", 1, session.HistoryEntry{Prompt: "a", Result: "ab", Score: 5, CommittedAt: base}))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, 1, sessions[1].Entries)
	assert.True(t, sessions[1].CreatedAt.Equal(base))

	_, err = s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadHistory(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestStoreSatisfiesRecorder(t *testing.T) {
	var _ session.Recorder = (*Store)(nil)
}
