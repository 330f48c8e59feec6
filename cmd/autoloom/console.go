package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/manifoldco/promptui"

	"autoloom/internal/session"
	"autoloom/internal/status"
)

const (
	menuContinue = "Continue"
	menuSave     = "Save history to file"
	menuQuit     = "Quit"
)

// consoleUI is the line-based frontend. The animated status lives in the
// readline prompt; pressing Enter during the countdown interrupts it.
type consoleUI struct {
	mu      sync.Mutex
	rl      *readline.Instance
	out     io.Writer
	choices chan string
}

func (c *consoleUI) open() error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(home, ".autoloom-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
		UniqueEditLine:    true,

		Stdin:  readline.NewCancelableStdin(os.Stdin),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()
	return nil
}

func (c *consoleUI) close() {
	c.mu.Lock()
	rl := c.rl
	c.rl = nil
	c.out = os.Stdout
	c.mu.Unlock()
	if rl != nil {
		_ = rl.Close()
	}
}

func (c *consoleUI) printf(format string, args ...any) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// renderStatus shows an animation frame as the prompt.
func (c *consoleUI) renderStatus(frame string) {
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	if rl == nil {
		return
	}
	rl.SetPrompt(yellow(frame) + " ")
	rl.Refresh()
}

func (c *consoleUI) readPrompt() (string, error) {
	c.rl.SetPrompt(bold("Prompt> "))
	for {
		line, err := c.rl.Readline()
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

// ReadChoice lists the candidates and waits for the next input line.
func (c *consoleUI) ReadChoice(ctx context.Context, candidates []session.Candidate) (string, error) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.choices = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.choices = nil
		c.mu.Unlock()
	}()

	c.printf("\n")
	for i, candidate := range candidates {
		score := "-"
		if candidate.Score != nil {
			score = fmt.Sprintf("%d", *candidate.Score)
		}
		c.printf("%s %s\n%s\n\n", cyan(fmt.Sprintf("%d.", i+1)), gray("(score: "+score+")"), candidate.Text)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case reply := <-ch:
		return reply, nil
	}
}

// Reject prints why the reply was refused.
func (c *consoleUI) Reject(msg string) {
	c.printf("%s\n", red(msg))
}

// deliverChoice hands line to a pending ReadChoice.
func (c *consoleUI) deliverChoice(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.choices == nil {
		return false
	}
	select {
	case c.choices <- line:
	default:
	}
	return true
}

type lineResult struct {
	text string
	err  error
}

func (c *consoleUI) readLines(out chan<- lineResult, stop <-chan struct{}) {
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	for {
		line, err := rl.Readline()
		select {
		case out <- lineResult{text: line, err: err}:
		case <-stop:
			return
		}
		if err != nil && !errors.Is(err, readline.ErrInterrupt) {
			return
		}
	}
}

// consoleCommand maps an input line to an action while no choice is pending.
type consoleCommand int

const (
	cmdInterrupt consoleCommand = iota
	cmdShow
	cmdHistory
	cmdCopy
	cmdResume
	cmdQuit
	cmdUnknown
)

func parseConsoleCommand(line string) consoleCommand {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return cmdInterrupt
	case ":show", ":s":
		return cmdShow
	case ":history", ":h":
		return cmdHistory
	case ":copy", ":c":
		return cmdCopy
	case ":resume", ":r":
		return cmdResume
	case ":quit", ":q", "exit", "quit":
		return cmdQuit
	default:
		return cmdUnknown
	}
}

func runConsole(ctx context.Context, container *Container, prompt, resumeID string) error {
	c := &consoleUI{out: os.Stdout}
	if err := c.open(); err != nil {
		return err
	}
	if prompt == "" && resumeID == "" {
		var err error
		if prompt, err = c.readPrompt(); err != nil {
			c.close()
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
	}

	animator := status.NewAnimator(c.renderStatus)
	orch, err := container.NewSession(ctx, sessionParams{
		Prompt:   prompt,
		ResumeID: resumeID,
		Selector: c,
		Status:   animator,
	})
	if err != nil {
		c.close()
		return err
	}
	defer orch.Hub().Close()
	stopServer := container.startServer(ctx, orch)
	defer stopServer()

	c.printf("%s %s\n", bold("Session"), gray(orch.SessionID()))
	c.printf("%s\n\n", gray("Enter interrupts the countdown. :show, :history, :copy, :resume, :quit"))
	c.printf("%s\n", orch.History().Current())

	for {
		quit, err := c.runUntilQuit(ctx, orch)
		animator.Stop()
		c.close()
		if err != nil {
			return err
		}
		if !quit {
			break
		}

		action, err := quitMenu()
		if err != nil {
			return err
		}
		if action == menuContinue {
			if err := c.open(); err != nil {
				return err
			}
			continue
		}
		if action == menuSave {
			if err := saveHistory(orch); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", red("Save failed:"), err)
			}
		}
		break
	}

	text, err := orch.History().Export(session.FormatText)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, "\n"+text)
	return nil
}

// runUntilQuit drives the session until the user asks to quit (true) or the
// session ends on its own (false).
func (c *consoleUI) runUntilQuit(ctx context.Context, loop loopSession) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(runCtx) }()

	events, unsubscribe := loop.Hub().Subscribe()
	defer unsubscribe()

	lines := make(chan lineResult)
	stop := make(chan struct{})
	defer close(stop)
	go c.readLines(lines, stop)

	stopRun := func() error {
		cancel()
		return <-runDone
	}

	for {
		select {
		case err := <-runDone:
			return false, err

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.showEvent(ev, loop)

		case line := <-lines:
			if line.err != nil {
				return true, stopRun()
			}
			if c.deliverChoice(line.text) {
				continue
			}
			switch parseConsoleCommand(line.text) {
			case cmdInterrupt:
				loop.Interrupt().Raise()
			case cmdShow:
				c.printf("%s\n", loop.History().Overview())
			case cmdHistory:
				text, _ := loop.History().Export(session.FormatText)
				c.printf("%s", text)
			case cmdCopy:
				if err := clipboardWriteAll(loop.History().Current()); err != nil {
					c.printf("%s %v\n", red("Copy failed:"), err)
				} else {
					c.printf("%s\n", green("Copied current text to clipboard"))
				}
			case cmdResume:
				loop.Resume()
			case cmdQuit:
				return true, stopRun()
			default:
				c.printf("%s\n", gray("Unknown command. :show, :history, :copy, :resume, :quit"))
			}
		}
	}
}

func (c *consoleUI) showEvent(ev session.Event, loop loopSession) {
	switch ev.Type {
	case session.EventRanked:
		snap := loop.Snapshot()
		if snap.Round == nil {
			return
		}
		for _, ranked := range snap.Round.Ranked {
			marker := " "
			if ranked.Index == snap.Round.ChosenIndex {
				marker = "*"
			}
			c.printf("%s [%3d] %s\n", marker, ranked.Score, oneLine(snap.Round.Candidates[ranked.Index].Text, 100))
		}
	case session.EventCommitted:
		label := fmt.Sprintf("score %d", ev.Score)
		if ev.Score == session.ManualScore {
			label = "manual"
		}
		c.printf("%s %s\n", green("+ "+ev.Text), gray("("+label+")"))
	case session.EventRoundFailed:
		c.printf("%s %s\n", red(ev.Message), gray("(:resume to retry)"))
	}
}

func quitMenu() (string, error) {
	menu := promptui.Select{
		Label: "Session paused",
		Items: []string{menuContinue, menuSave, menuQuit},
	}
	_, choice, err := menu.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return menuQuit, nil
		}
		return "", err
	}
	return choice, nil
}

func saveHistory(loop loopSession) error {
	prompt := promptui.Prompt{
		Label:   "File",
		Default: fmt.Sprintf("autoloom-%s.txt", shortID(loop.SessionID())),
	}
	path, err := prompt.Run()
	if err != nil {
		return err
	}
	return writeHistory(loop.History(), path)
}

// writeHistory exports history in the format implied by the file extension.
func writeHistory(history *session.History, path string) error {
	text, err := history.Export(formatForPath(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return session.FormatMarkdown
	case ".yaml", ".yml":
		return session.FormatYAML
	case ".jsonl":
		return session.FormatJSONL
	default:
		return session.FormatText
	}
}
