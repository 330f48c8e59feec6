package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Selector reads a manual choice from the user.
type Selector interface {
	// ReadChoice shows the candidates and returns the raw reply.
	ReadChoice(ctx context.Context, candidates []Candidate) (string, error)
	// Reject tells the user why the last reply was refused.
	Reject(msg string)
}

// ChoiceError explains why a manual reply was refused.
type ChoiceError struct {
	Msg string
}

func (e *ChoiceError) Error() string { return e.Msg }

// ParseChoice parses a 1-based reply and returns the 0-based position.
func ParseChoice(input string, n int) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, &ChoiceError{Msg: "Please enter a valid number"}
	}
	if value < 1 || value > n {
		return 0, &ChoiceError{Msg: fmt.Sprintf("Please enter a number between 1 and %d", n)}
	}
	return value - 1, nil
}

// SelectManually asks until the user gives a valid choice or ctx ends.
func SelectManually(ctx context.Context, selector Selector, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoSuccessfulGenerations
	}
	for {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		reply, err := selector.ReadChoice(ctx, candidates)
		if err != nil {
			return Candidate{}, fmt.Errorf("read manual choice: %w", err)
		}
		pos, err := ParseChoice(reply, len(candidates))
		if err != nil {
			selector.Reject(err.Error())
			continue
		}
		return candidates[pos], nil
	}
}
