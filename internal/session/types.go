// Package session drives the generate, score, select and commit loop and owns
// the append-only history it produces.
package session

import (
	"autoloom/internal/llm"
	"autoloom/internal/scoring"
)

// ManualScore marks a history entry picked by hand rather than by score.
const ManualScore = -1

// State is a round's position in the state machine.
type State int

const (
	StateIdle State = iota
	StateGenerating
	StateScoring
	StateRanked
	StateCountdown
	StateCommitted
	StateManualOverride
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateScoring:
		return "scoring"
	case StateRanked:
		return "ranked"
	case StateCountdown:
		return "countdown"
	case StateCommitted:
		return "committed"
	case StateManualOverride:
		return "manual_override"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Candidate is one generated continuation.
type Candidate = scoring.Candidate

// Round is the working state of one generate-to-commit cycle.
type Round struct {
	Number      int          `json:"number" yaml:"number"`
	Prompt      string       `json:"prompt" yaml:"prompt"`
	Candidates  []Candidate  `json:"candidates" yaml:"candidates"`
	Ranked      []llm.Ranked `json:"ranked" yaml:"ranked"`
	ChosenIndex int          `json:"chosen_index" yaml:"chosen_index"`
	ChosenScore int          `json:"chosen_score" yaml:"chosen_score"`
	State       State        `json:"state" yaml:"state"`
	Err         error        `json:"-" yaml:"-"`
}

// Chosen returns the committed candidate text.
func (r *Round) Chosen() string {
	for _, cand := range r.Candidates {
		if cand.Index == r.ChosenIndex {
			return cand.Text
		}
	}
	return ""
}

// Manual reports whether the round was committed by hand.
func (r *Round) Manual() bool {
	return r.ChosenScore == ManualScore
}

// Selectable returns the candidates a user may pick by hand, in batch order.
func (r *Round) Selectable() []Candidate {
	out := make([]Candidate, 0, len(r.Candidates))
	for _, cand := range r.Candidates {
		if !cand.IsErrorMarker() {
			out = append(out, cand)
		}
	}
	return out
}
