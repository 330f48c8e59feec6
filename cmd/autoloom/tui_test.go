package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoloom/internal/session"
)

type fakeLoop struct {
	history   *session.History
	hub       *session.Hub
	interrupt *session.Interrupt
	resumed   int
}

func newFakeLoop() *fakeLoop {
	h := session.NewHistory("Once upon a time")
	h.Commit("Once upon a time, there was", 77, time.Unix(1_700_000_000, 0))
	return &fakeLoop{history: h, hub: session.NewHub(), interrupt: &session.Interrupt{}}
}

func (f *fakeLoop) SessionID() string { return "0123456789abcdef" }
func (f *fakeLoop) Snapshot() session.Snapshot {
	return session.Snapshot{SessionID: f.SessionID(), Prompt: f.history.Current(), Committed: f.history.Len()}
}
func (f *fakeLoop) History() *session.History     { return f.history }
func (f *fakeLoop) Hub() *session.Hub             { return f.hub }
func (f *fakeLoop) Interrupt() *session.Interrupt { return f.interrupt }
func (f *fakeLoop) Resume()                       { f.resumed++ }
func (f *fakeLoop) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func readyModel(t *testing.T, loop *fakeLoop, replies chan<- string) tuiModel {
	t.Helper()
	m := newTUIModel(nil, "prompt", replies)
	next, _ := m.Update(sessionReadyMsg{loop: loop})
	t.Cleanup(loop.hub.Close)
	return next.(tuiModel)
}

func update(t *testing.T, m tuiModel, msg tea.Msg) (tuiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(tuiModel), cmd
}

func TestTUIInterruptKeyRaisesToken(t *testing.T) {
	loop := newFakeLoop()
	m := readyModel(t, loop, nil)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlAt})
	assert.True(t, loop.interrupt.Raised())
	assert.Contains(t, m.View(), "Interrupt requested")
}

func TestTUIManualChoiceIsSentAsReply(t *testing.T) {
	loop := newFakeLoop()
	replies := make(chan string, 1)
	m := readyModel(t, loop, replies)

	score := 64
	m, _ = update(t, m, choiceRequestMsg{candidates: []session.Candidate{
		{Index: 0, Text: " the castle", Score: &score},
		{Index: 2, Text: " the sea"},
	}})
	view := m.View()
	assert.Contains(t, view, "1. (score: 64) the castle")
	assert.Contains(t, view, "2. (score: -) the sea")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, "2", <-replies)

	m, _ = update(t, m, rejectMsg("Please enter a number between 1 and 2"))
	assert.Contains(t, m.View(), "Please enter a number between 1 and 2")
}

func TestTUIShowOverlayToggles(t *testing.T) {
	loop := newFakeLoop()
	m := readyModel(t, loop, nil)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Equal(t, overlayShow, m.overlay)
	view := m.View()
	assert.Contains(t, view, "Original Prompt:")
	assert.Contains(t, view, "Completion 1 (score: 77):")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, overlayNone, m.overlay)
}

func TestTUICopyUsesClipboard(t *testing.T) {
	var copied string
	orig := clipboardWriteAll
	clipboardWriteAll = func(text string) error {
		copied = text
		return nil
	}
	t.Cleanup(func() { clipboardWriteAll = orig })

	loop := newFakeLoop()
	m := readyModel(t, loop, nil)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.Equal(t, "Once upon a time, there was", copied)
	assert.Contains(t, m.View(), "Copied current text to clipboard")

	clipboardWriteAll = func(string) error { return errors.New("no clipboard") }
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.Contains(t, m.View(), "Copy failed: no clipboard")
}

func TestTUIQuitKeepsHistory(t *testing.T) {
	loop := newFakeLoop()
	m := readyModel(t, loop, nil)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.Equal(t, "Session History:\n\nStep 1:\nPrompt: Once upon a time\nCompletion: Once upon a time, there was\nScore: 77\n\n", m.history)
	assert.Empty(t, m.View())
}

func TestTUIResumeKey(t *testing.T) {
	loop := newFakeLoop()
	m := readyModel(t, loop, nil)
	update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, 1, loop.resumed)
}

func TestTUIPromptEntryStartsSession(t *testing.T) {
	loop := newFakeLoop()
	t.Cleanup(loop.hub.Close)
	var started string
	m := newTUIModel(func(prompt string) (loopSession, error) {
		started = prompt
		return loop, nil
	}, "", nil)
	require.True(t, m.needPrompt)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("Dear diary")})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, "Dear diary", started)
	require.IsType(t, sessionReadyMsg{}, msg)

	m, _ = update(t, m, msg)
	assert.False(t, m.needPrompt)
	assert.Contains(t, m.View(), "session 01234567")
}

func TestTUIStartFailureQuits(t *testing.T) {
	m := newTUIModel(func(string) (loopSession, error) { return nil, errors.New("missing key") }, "", nil)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	msg := cmd()
	m, _ = update(t, m, msg)
	assert.EqualError(t, m.err, "missing key")
}

func TestTUIStatusAndEvents(t *testing.T) {
	loop := newFakeLoop()
	m := readyModel(t, loop, nil)
	m.count = func(s string) int { return len(s) }

	m, _ = update(t, m, statusMsg("【 Scored 2/5 generations.. 】"))
	assert.Contains(t, m.View(), "Scored 2/5 generations")

	loop.history.Commit("Once upon a time, there was a fox", 81, time.Unix(1_700_000_100, 0))
	m, cmd := update(t, m, eventMsg(session.Event{Type: session.EventCommitted}))
	require.NotNil(t, cmd)
	assert.Equal(t, len("Once upon a time, there was a fox"), m.tokens)
	assert.Contains(t, m.View(), "round 3")
}

func TestTUISelectorRoundTrip(t *testing.T) {
	var sent []tea.Msg
	replies := make(chan string, 1)
	sel := &tuiSelector{send: func(msg tea.Msg) { sent = append(sent, msg) }, replies: replies}

	replies <- "1"
	reply, err := sel.ReadChoice(context.Background(), []session.Candidate{{Text: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "1", reply)
	require.Len(t, sent, 1)
	assert.IsType(t, choiceRequestMsg{}, sent[0])

	sel.Reject("Please enter a valid number")
	assert.Equal(t, rejectMsg("Please enter a valid number"), sent[1])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sel.ReadChoice(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 20))
	assert.Equal(t, "abcdefg…", oneLine("abcdefghijkl", 8))
}
