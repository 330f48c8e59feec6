package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoloom/internal/session"
	"autoloom/internal/store"
)

func seedStore(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	created := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateSession(ctx, store.SessionInfo{
		ID: "5f1c2a7e-0000-4000-8000-000000000001", Prompt: "The lighthouse keeper",
		Model: "gpt-4o-mini", Classifier: "gpt-4o", CreatedAt: created,
	}))
	h := session.NewHistory("The lighthouse keeper")
	e1 := h.Commit("The lighthouse keeper woke", 88, created.Add(time.Minute))
	e2 := h.Commit("The lighthouse keeper woke before dawn", session.ManualScore, created.Add(2*time.Minute))
	require.NoError(t, st.RecordEntry(ctx, "5f1c2a7e-0000-4000-8000-000000000001", 1, e1))
	require.NoError(t, st.RecordEntry(ctx, "5f1c2a7e-0000-4000-8000-000000000001", 2, e2))
}

func runRoot(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--store", dbPath,
		"--log-file", filepath.Join(dir, "autoloom.log"),
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPrintSessionsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSessions(&out, nil))
	assert.Contains(t, out.String(), "No stored sessions.")
}

func TestPrintSessionsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSessions(&out, []store.SessionInfo{{
		ID: "abc", Prompt: "Hello\nworld", Model: "m1", CreatedAt: time.Now(), Entries: 3,
	}}))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "PROMPT")
	assert.Contains(t, string(lines[1]), "Hello world")
	assert.Contains(t, string(lines[1]), "m1")
}

func TestHistoryListCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	seedStore(t, db)

	out, err := runRoot(t, db, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "5f1c2a7e-0000-4000-8000-000000000001")
	assert.Contains(t, out, "The lighthouse keeper")
	assert.Contains(t, out, "gpt-4o-mini")
}

func TestHistoryShowCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	seedStore(t, db)

	out, err := runRoot(t, db, "history", "show", "5f1c2a7e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Contains(t, out, "Original Prompt:")
	assert.Contains(t, out, "Completion 2 (score: manual):")

	_, err = runRoot(t, db, "history", "show", "missing")
	require.EqualError(t, err, "session missing not found")
}

func TestHistoryExportCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	seedStore(t, db)

	out, err := runRoot(t, db, "history", "export", "5f1c2a7e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "Session History:\n\n"+
		"Step 1:\nPrompt: The lighthouse keeper\nCompletion: The lighthouse keeper woke\nScore: 88\n\n"+
		"Step 2:\nPrompt: The lighthouse keeper woke\nCompletion: The lighthouse keeper woke before dawn\nScore: manual\n\n", out)

	target := filepath.Join(t.TempDir(), "story.md")
	_, err = runRoot(t, db, "history", "export", "5f1c2a7e-0000-4000-8000-000000000001", "-o", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Completion 2 (score: manual)")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "autoloom ")
	assert.Contains(t, out.String(), appVersion())
}

func TestVCSVersion(t *testing.T) {
	assert.Equal(t, "development", vcsVersion(nil))
	assert.Equal(t, "dev-0123abcd", vcsVersion([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123abcdef4567"},
		{Key: "vcs.modified", Value: "false"},
	}))
	assert.Equal(t, "dev-0123abcd-dirty", vcsVersion([]debug.BuildSetting{
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.revision", Value: "0123abcdef4567"},
	}))
}
