// Package status renders the animated one-line status shown while a round runs.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

const (
	// DefaultInterval is the time between animation frames.
	DefaultInterval = 500 * time.Millisecond
	// DefaultGrace is the pause between cancelling one animation and starting the next.
	DefaultGrace = 100 * time.Millisecond
)

// Reporter receives human-readable progress text.
type Reporter interface {
	Set(text string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(text string)

// Set calls f.
func (f ReporterFunc) Set(text string) { f(text) }

type nopReporter struct{}

func (nopReporter) Set(string) {}

// Nop returns a Reporter that discards everything.
func Nop() Reporter { return nopReporter{} }

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop()
	}
	return r
}

// Multi fans one status out to several reporters.
func Multi(reporters ...Reporter) Reporter {
	filtered := make([]Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	return ReporterFunc(func(text string) {
		for _, r := range filtered {
			r.Set(text)
		}
	})
}

// Frame formats one animation frame: 【 text... 】.
func Frame(text, dots string) string {
	return fmt.Sprintf("【 %s%s 】", text, dots)
}

// Animator cycles ellipsis frames after the current status text and hands each
// frame to a render function. Set replaces the running animation.
type Animator struct {
	render   func(frame string)
	frames   []string
	interval time.Duration
	grace    time.Duration

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises an Animator.
type Option func(*Animator)

// WithInterval sets the frame interval.
func WithInterval(d time.Duration) Option {
	return func(a *Animator) { a.interval = d }
}

// WithGrace sets the pause before a replacement animation starts.
func WithGrace(d time.Duration) Option {
	return func(a *Animator) { a.grace = d }
}

// NewAnimator creates an animator that calls render with every frame.
func NewAnimator(render func(frame string), opts ...Option) *Animator {
	a := &Animator{
		render:   render,
		frames:   spinner.Ellipsis.Frames,
		interval: DefaultInterval,
		grace:    DefaultGrace,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.render == nil {
		a.render = func(string) {}
	}
	return a
}

// Set cancels the running animation and starts a new one for text that waits
// the grace period before its first frame.
func (a *Animator) Set(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	a.current = text

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	go a.animate(ctx, text, done)
}

// Current returns the text of the running animation.
func (a *Animator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Stop cancels the running animation and waits for it to exit. It is safe to
// call more than once.
func (a *Animator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Animator) stopLocked() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil
}

func (a *Animator) animate(ctx context.Context, text string, done chan struct{}) {
	defer close(done)
	if a.grace > 0 {
		timer := time.NewTimer(a.grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		a.render(Frame(text, a.frames[i%len(a.frames)]))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
