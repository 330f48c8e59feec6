package session

import (
	"context"
	"sync"
	"time"

	"autoloom/internal/llm"
)

type fakeGenerator struct {
	mu      sync.Mutex
	batches [][]string
	errs    []error
	panicAt int
	prompts []string
	resets  int
}

func (g *fakeGenerator) GenerateBatch(ctx context.Context, req llm.BatchRequest) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.prompts)
	g.prompts = append(g.prompts, req.Prompt)
	if g.panicAt > 0 && call+1 == g.panicAt {
		panic("generator blew up")
	}
	if call < len(g.errs) && g.errs[call] != nil {
		return nil, g.errs[call]
	}
	if len(g.batches) == 0 {
		return nil, nil
	}
	if call >= len(g.batches) {
		return g.batches[len(g.batches)-1], nil
	}
	return g.batches[call], nil
}

func (g *fakeGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets++
}

func (g *fakeGenerator) seenPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type fakeScorer struct {
	scores map[string]int
	// during runs inside ClassifyBatch, before any score is reported.
	during func()
	resets int
}

func (s *fakeScorer) ClassifyOne(ctx context.Context, text string) int {
	if score, ok := s.scores[text]; ok {
		return score
	}
	return llm.FallbackScore
}

func (s *fakeScorer) ClassifyBatch(ctx context.Context, texts []string, observer llm.ScoreObserver) []llm.Ranked {
	if s.during != nil {
		s.during()
	}
	out := make([]llm.Ranked, len(texts))
	for i, text := range texts {
		out[i] = llm.Ranked{Index: i, Score: s.ClassifyOne(ctx, text)}
		if observer != nil {
			observer.OnScore(i, out[i].Score)
		}
	}
	return llm.Rank(out)
}

func (s *fakeScorer) Reset() { s.resets++ }

type fakeSelector struct {
	replies []string
	rejects []string
	shown   [][]Candidate
}

func (s *fakeSelector) ReadChoice(ctx context.Context, candidates []Candidate) (string, error) {
	s.shown = append(s.shown, candidates)
	if len(s.replies) == 0 {
		return "", context.Canceled
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *fakeSelector) Reject(msg string) {
	s.rejects = append(s.rejects, msg)
}

type statusLog struct {
	mu    sync.Mutex
	lines []string
	stops int
}

func (l *statusLog) Set(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, text)
}

func (l *statusLog) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *statusLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// tickSleeper counts countdown ticks and runs hook after each one.
type tickSleeper struct {
	mu    sync.Mutex
	ticks int
	hook  func(tick int)
}

func (s *tickSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.ticks++
	tick := s.ticks
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(tick)
	}
	return ctx.Err()
}

func (s *tickSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

type memoryRecorder struct {
	mu      sync.Mutex
	rounds  []int
	entries []HistoryEntry
	seqs    []int
}

func (r *memoryRecorder) RecordRound(ctx context.Context, sessionID string, round *Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, round.Number)
	return nil
}

func (r *memoryRecorder) RecordEntry(ctx context.Context, sessionID string, seq int, entry HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	r.entries = append(r.entries, entry)
	return nil
}

var fixedNow = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func testOptions(gen *fakeGenerator, scorer *fakeScorer, sleeper *tickSleeper) Options {
	return Options{
		SessionID: "test-session",
		Prompt:    "Hello",
		Request:   llm.BatchRequest{Model: "meta-llama/Meta-Llama-3.1-405B-FP8", MaxTokens: 100, Temperature: 0.7, TopP: 0.9, N: 3},
		WaitTime:  10,
		Generator: gen,
		Scorer:    scorer,
		Sleep:     sleeper.sleep,
		Now:       func() time.Time { return fixedNow },
	}
}
