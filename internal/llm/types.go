package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// FallbackScore is the neutral score used whenever classification fails.
const FallbackScore = 50

// BatchRequest asks for N sampled continuations of Prompt.
type BatchRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	N           int
}

// Generator produces candidate continuations.
type Generator interface {
	// GenerateBatch returns up to N texts. Retry exhaustion is reported as N
	// RetryMarker strings, not as an error.
	GenerateBatch(ctx context.Context, req BatchRequest) ([]string, error)
	// Reset drops pooled connections before a new round.
	Reset()
}

// Scorer assigns quality scores to candidate texts.
type Scorer interface {
	ClassifyOne(ctx context.Context, text string) int
	ClassifyBatch(ctx context.Context, texts []string, observer ScoreObserver) []Ranked
	// Reset drops pooled connections before a new round.
	Reset()
}

// ScoreObserver receives each score as it lands, in completion order.
type ScoreObserver interface {
	OnScore(index, score int)
}

// ScoreObserverFunc adapts a function to ScoreObserver.
type ScoreObserverFunc func(index, score int)

// OnScore calls f.
func (f ScoreObserverFunc) OnScore(index, score int) { f(index, score) }

// Ranked pairs a batch position with its score.
type Ranked struct {
	Index int `json:"index" yaml:"index"`
	Score int `json:"score" yaml:"score"`
}

// Rank sorts by score descending, breaking ties by ascending index. The input
// is not modified.
func Rank(results []Ranked) []Ranked {
	out := append([]Ranked(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// RetryMarker is the text returned in every slot when generation exhausts its
// retries.
func RetryMarker(attempts int) string {
	return fmt.Sprintf("Error: Maximum retries (%d) exceeded", attempts)
}

// IsErrorMarker reports whether text is a retry marker or a provider error
// string rather than a real continuation.
func IsErrorMarker(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(lower, "error:") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "rate limit exceeded")
}

// AllErrorMarkers reports whether texts is empty or holds only error markers.
func AllErrorMarkers(texts []string) bool {
	for _, text := range texts {
		if !IsErrorMarker(text) {
			return false
		}
	}
	return true
}
