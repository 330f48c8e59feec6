// Package scoring fans candidate texts out to the classifier and folds the
// scores back onto the candidates.
package scoring

import (
	"context"
	"fmt"

	"autoloom/internal/llm"
	"autoloom/internal/logging"
	"autoloom/internal/status"
)

// Candidate is one generated continuation in a round.
type Candidate struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
	Score *int   `json:"score,omitempty" yaml:"score,omitempty"`
}

// Scored reports whether a score has been attached.
func (c Candidate) Scored() bool { return c.Score != nil }

// IsErrorMarker reports whether the candidate text is a failure marker.
func (c Candidate) IsErrorMarker() bool { return llm.IsErrorMarker(c.Text) }

// Coordinator scores a round's candidates and reports progress.
type Coordinator struct {
	scorer   llm.Scorer
	status   status.Reporter
	observer llm.ScoreObserver
	logger   logging.Logger
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithStatus publishes "Scored k/N generations" after each score.
func WithStatus(r status.Reporter) Option {
	return func(c *Coordinator) { c.status = status.OrNop(r) }
}

// WithObserver forwards every score, keyed by candidate index.
func WithObserver(o llm.ScoreObserver) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

// NewCoordinator wraps scorer.
func NewCoordinator(scorer llm.Scorer, opts ...Option) *Coordinator {
	c := &Coordinator{
		scorer: scorer,
		status: status.Nop(),
		logger: logging.NewComponentLogger("Scoring"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score attaches a score to every candidate that is not an error marker and
// returns them ranked by candidate index. It never fails: a candidate left
// unscored by a broken batch gets llm.FallbackScore.
func (c *Coordinator) Score(ctx context.Context, candidates []Candidate) (ranked []llm.Ranked) {
	positions := make([]int, 0, len(candidates))
	texts := make([]string, 0, len(candidates))
	for i, cand := range candidates {
		if cand.IsErrorMarker() {
			continue
		}
		positions = append(positions, i)
		texts = append(texts, cand.Text)
	}
	total := len(texts)
	if total == 0 {
		return nil
	}

	scored := 0
	c.status.Set(fmt.Sprintf("Scored 0/%d generations", total))

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Scoring batch panicked, using fallback scores: %v", r)
			ranked = c.collect(candidates, positions)
		}
	}()

	c.scorer.ClassifyBatch(ctx, texts, llm.ScoreObserverFunc(func(pos, score int) {
		if pos < 0 || pos >= total {
			return
		}
		cand := &candidates[positions[pos]]
		if cand.Scored() {
			return
		}
		value := score
		cand.Score = &value
		scored++
		c.status.Set(fmt.Sprintf("Scored %d/%d generations", scored, total))
		if c.observer != nil {
			c.observer.OnScore(cand.Index, score)
		}
	}))
	return c.collect(candidates, positions)
}

// collect fills unscored slots with the fallback and ranks by candidate index.
func (c *Coordinator) collect(candidates []Candidate, positions []int) []llm.Ranked {
	results := make([]llm.Ranked, 0, len(positions))
	for _, pos := range positions {
		cand := &candidates[pos]
		if !cand.Scored() {
			c.logger.Warn("Candidate %d was not scored, using fallback %d", cand.Index, llm.FallbackScore)
			value := llm.FallbackScore
			cand.Score = &value
			if c.observer != nil {
				c.observer.OnScore(cand.Index, value)
			}
		}
		results = append(results, llm.Ranked{Index: cand.Index, Score: *cand.Score})
	}
	return llm.Rank(results)
}
