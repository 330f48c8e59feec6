package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"autoloom/internal/session"
	"autoloom/internal/status"
	"autoloom/internal/token"
)

// clipboardWriteAll is a package-level variable so tests can replace it.
var clipboardWriteAll = clipboard.WriteAll

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	chosenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// Messages for Bubble Tea
type (
	statusMsg        string
	eventMsg         session.Event
	hubClosedMsg     struct{}
	choiceRequestMsg struct{ candidates []session.Candidate }
	rejectMsg        string
	sessionDoneMsg   struct{ err error }
	sessionReadyMsg  struct{ loop loopSession }
	sessionFailedMsg struct{ err error }
)

type overlayKind int

const (
	overlayNone overlayKind = iota
	overlayShow
	overlayMarkdown
)

// startFunc builds and launches a session for prompt.
type startFunc func(prompt string) (loopSession, error)

type tuiModel struct {
	start startFunc
	loop  loopSession
	input textinput.Model
	view  viewport.Model
	// count reports the token length of the working text; nil hides it.
	count func(string) int

	status     string
	tokens     int
	notice     string
	err        error
	snapshot   session.Snapshot
	events     <-chan session.Event
	selecting  []session.Candidate
	replies    chan<- string
	overlay    overlayKind
	history    string
	width      int
	height     int
	quitting   bool
	needPrompt bool
}

func newTUIModel(start startFunc, prompt string, replies chan<- string) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type the opening prompt and press Enter..."
	ti.CharLimit = 0
	ti.Focus()

	return tuiModel{
		start:      start,
		input:      ti,
		view:       viewport.New(80, 20),
		replies:    replies,
		needPrompt: prompt == "",
		width:      80,
		height:     24,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 6
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionReadyMsg:
		m.loop = msg.loop
		m.needPrompt = false
		m.input.Reset()
		m.input.Placeholder = "Enter a number to choose, or use the keys below"
		m.events, _ = m.loop.Hub().Subscribe()
		m.refresh()
		return m, waitForEvent(m.events)

	case sessionFailedMsg:
		m.err = msg.err
		return m, tea.Quit

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case eventMsg:
		m.refresh()
		if msg.Type == session.EventCommitted {
			m.selecting = nil
			m.notice = ""
		}
		return m, waitForEvent(m.events)

	case hubClosedMsg:
		return m, nil

	case choiceRequestMsg:
		m.selecting = msg.candidates
		m.notice = ""
		m.input.Reset()
		return m, nil

	case rejectMsg:
		m.notice = string(msg)
		return m, nil

	case sessionDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m.quit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "esc":
		if m.overlay != overlayNone {
			m.overlay = overlayNone
			return m, nil
		}
	}

	if m.loop != nil {
		switch msg.String() {
		case "ctrl+@":
			m.loop.Interrupt().Raise()
			m.notice = "Interrupt requested"
			return m, nil
		case "ctrl+s":
			m.toggleOverlay(overlayShow)
			return m, nil
		case "ctrl+g":
			m.toggleOverlay(overlayMarkdown)
			return m, nil
		case "ctrl+y":
			if err := clipboardWriteAll(m.loop.History().Current()); err != nil {
				m.notice = "Copy failed: " + err.Error()
			} else {
				m.notice = "Copied current text to clipboard"
			}
			return m, nil
		case "ctrl+r":
			m.loop.Resume()
			m.notice = "Resuming"
			return m, nil
		}
	}

	if msg.Type == tea.KeyEnter {
		value := strings.TrimSpace(m.input.Value())
		switch {
		case m.needPrompt && value != "":
			m.input.Reset()
			return m, m.startSession(value)
		case len(m.selecting) > 0:
			m.input.Reset()
			replies := m.replies
			return m, func() tea.Msg {
				replies <- value
				return nil
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) refresh() {
	prompt := m.snapshot.Prompt
	m.snapshot = m.loop.Snapshot()
	if m.count != nil && (m.snapshot.Prompt != prompt || m.tokens == 0) {
		m.tokens = m.count(m.snapshot.Prompt)
	}
}

func (m *tuiModel) toggleOverlay(kind overlayKind) {
	if m.overlay == kind {
		m.overlay = overlayNone
		return
	}
	m.overlay = kind
	history := m.loop.History()
	switch kind {
	case overlayShow:
		m.view.SetContent(history.Overview())
	case overlayMarkdown:
		md, err := history.Export(session.FormatMarkdown)
		if err != nil {
			m.view.SetContent(err.Error())
			return
		}
		m.view.SetContent(renderMarkdown(md, m.width))
	}
	m.view.GotoTop()
}

func (m tuiModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.loop != nil {
		if text, err := m.loop.History().Export(session.FormatText); err == nil {
			m.history = text
		}
	}
	return m, tea.Quit
}

func (m tuiModel) startSession(prompt string) tea.Cmd {
	start := m.start
	return func() tea.Msg {
		loop, err := start(prompt)
		if err != nil {
			return sessionFailedMsg{err: err}
		}
		return sessionReadyMsg{loop: loop}
	}
}

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return hubClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m tuiModel) View() string {
	if m.quitting {
		return ""
	}
	if m.needPrompt {
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("autoloom"),
			"",
			m.input.View(),
			"",
			dimStyle.Render("Enter to start | ctrl+c to quit"),
		)
	}
	if m.overlay != overlayNone {
		return lipgloss.JoinVertical(lipgloss.Left,
			overlayStyle.Render(m.view.View()),
			dimStyle.Render("esc to close"),
		)
	}

	var sb strings.Builder
	header := fmt.Sprintf("autoloom | session %s | round %d", shortID(m.snapshot.SessionID), m.snapshot.Committed+1)
	if m.count != nil {
		header += fmt.Sprintf(" | %d tokens", m.tokens)
	}
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("\n\n")
	sb.WriteString(m.snapshot.Prompt)
	sb.WriteString("\n\n")

	if round := m.snapshot.Round; round != nil && len(round.Ranked) > 0 && len(m.selecting) == 0 {
		for _, ranked := range round.Ranked {
			line := fmt.Sprintf("[%3d] %s", ranked.Score, oneLine(round.Candidates[ranked.Index].Text, m.width-8))
			if ranked.Index == round.ChosenIndex {
				line = chosenStyle.Render(line)
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	for i, candidate := range m.selecting {
		score := "-"
		if candidate.Score != nil {
			score = fmt.Sprintf("%d", *candidate.Score)
		}
		fmt.Fprintf(&sb, "%d. (score: %s) %s\n", i+1, score, oneLine(candidate.Text, m.width-16))
	}

	sb.WriteString(statusStyle.Render(m.status))
	sb.WriteString("\n")
	if m.notice != "" {
		sb.WriteString(errorStyle.Render(m.notice))
		sb.WriteString("\n")
	}
	if len(m.selecting) > 0 {
		sb.WriteString(m.input.View())
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("ctrl+space interrupt | ctrl+s show | ctrl+g markdown | ctrl+y copy | ctrl+c quit"))
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if width < 8 {
		width = 8
	}
	runes := []rune(text)
	if len(runes) > width {
		return string(runes[:width-1]) + "…"
	}
	return text
}

// renderMarkdown renders markdown with glamour
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

// tuiSelector hands manual choices between the orchestrator and the program.
type tuiSelector struct {
	send    func(tea.Msg)
	replies <-chan string
}

func (s *tuiSelector) ReadChoice(ctx context.Context, candidates []session.Candidate) (string, error) {
	s.send(choiceRequestMsg{candidates: candidates})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case reply := <-s.replies:
		return reply, nil
	}
}

func (s *tuiSelector) Reject(msg string) {
	s.send(rejectMsg(msg))
}

// runTUI runs the session inside a full-screen Bubble Tea program and prints
// the history on exit.
func runTUI(ctx context.Context, container *Container, prompt, resumeID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan string, 1)
	var program *tea.Program
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}
	animator := status.NewAnimator(func(frame string) { send(statusMsg(frame)) })
	defer animator.Stop()

	var (
		mu         sync.Mutex
		stopServer func()
		done       = make(chan struct{})
	)
	start := func(prompt string) (loopSession, error) {
		orch, err := container.NewSession(ctx, sessionParams{
			Prompt:   prompt,
			ResumeID: resumeID,
			Selector: &tuiSelector{send: send, replies: replies},
			Status:   animator,
		})
		if err != nil {
			return nil, err
		}
		mu.Lock()
		stopServer = container.startServer(ctx, orch)
		mu.Unlock()
		go func() {
			defer close(done)
			err := orch.Run(ctx)
			orch.Hub().Close()
			send(sessionDoneMsg{err: err})
		}()
		return orch, nil
	}

	model := newTUIModel(start, prompt, replies)
	model.count = token.Default().Count
	program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if prompt != "" || resumeID != "" {
		go func() {
			loop, err := start(prompt)
			if err != nil {
				program.Send(sessionFailedMsg{err: err})
				return
			}
			program.Send(sessionReadyMsg{loop: loop})
		}()
	}

	final, err := program.Run()
	cancel()
	mu.Lock()
	if stopServer != nil {
		<-done
		stopServer()
	}
	mu.Unlock()

	result, ok := final.(tuiModel)
	if !ok || (err != nil && ctx.Err() == nil) {
		return err
	}
	if result.history != "" {
		fmt.Fprint(os.Stdout, result.history)
	}
	return result.err
}
