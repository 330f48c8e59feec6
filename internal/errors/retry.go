package errors

import (
	"context"
	"fmt"
	"time"

	"autoloom/internal/logging"
)

// RetryPolicy configures the backoff loop.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first (default: 5)
	BaseDelay   time.Duration // first backoff delay (default: 1s)
	MaxDelay    time.Duration // backoff ceiling (default: 32s)

	// Sleep waits between attempts. Nil uses SleepContext.
	Sleep Sleeper `yaml:"-"`
	// OnAttempt observes every finished attempt.
	OnAttempt func(AttemptEvent) `yaml:"-"`
}

// DefaultRetryPolicy returns the generation defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    32 * time.Second,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutcomeKind tags the result of a single attempt or of the whole loop.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeMalformed
	OutcomeExhausted
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of Do. Exhaustion is an outcome, not an error.
type Outcome[T any] struct {
	Kind     OutcomeKind
	Value    T
	Reason   string
	Attempts int
	// Last is the kind of the final failed attempt when Kind is OutcomeExhausted.
	Last OutcomeKind
	Err  error
}

// OK reports whether the loop produced a value.
func (o Outcome[T]) OK() bool {
	return o.Kind == OutcomeSuccess
}

// AttemptEvent describes one finished attempt.
type AttemptEvent struct {
	Attempt int
	Kind    OutcomeKind
	Delay   time.Duration // backoff before the next attempt, zero if none
	Err     error
}

// Operation performs one attempt. The attempt number starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Classify maps an attempt error to an outcome kind.
func Classify(ctx context.Context, err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil:
		return OutcomeFailed
	case IsMalformed(err):
		return OutcomeMalformed
	case IsTransient(err):
		return OutcomeTransient
	default:
		return OutcomeFailed
	}
}

// Backoff returns the delay after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func Backoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// BackoffSchedule lists the delays slept between MaxAttempts attempts.
func BackoffSchedule(policy RetryPolicy) []time.Duration {
	if policy.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, policy.MaxAttempts-1)
	for attempt := 1; attempt < policy.MaxAttempts; attempt++ {
		out = append(out, Backoff(policy, attempt))
	}
	return out
}

// Do runs op until it succeeds, fails permanently or runs out of attempts.
func Do[T any](ctx context.Context, policy RetryPolicy, op Operation[T], logger logging.Logger) Outcome[T] {
	logger = logging.OrNop(logger)
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var (
		zeroValue T
		lastErr   error
		lastKind  OutcomeKind
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Debug("Context cancelled, stopping retries")
			return Outcome[T]{Kind: OutcomeFailed, Reason: "cancelled", Attempts: attempt - 1, Err: err}
		}

		logger.Debug("Executing (attempt %d/%d)", attempt, maxAttempts)
		result, err := op(ctx, attempt)
		kind := Classify(ctx, err)

		if kind == OutcomeSuccess {
			if attempt > 1 {
				logger.Info("Retry succeeded after %d attempts", attempt)
			}
			notify(policy, AttemptEvent{Attempt: attempt, Kind: kind})
			return Outcome[T]{Kind: OutcomeSuccess, Value: result, Attempts: attempt}
		}

		lastErr = err
		lastKind = kind
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Debug("Context cancelled during attempt %d", attempt)
			return Outcome[T]{Kind: OutcomeFailed, Reason: "cancelled", Attempts: attempt, Err: ctxErr}
		}
		if kind == OutcomeFailed {
			logger.Warn("Attempt %d failed permanently: %v", attempt, err)
			notify(policy, AttemptEvent{Attempt: attempt, Kind: kind, Err: err})
			return Outcome[T]{Kind: OutcomeFailed, Reason: err.Error(), Attempts: attempt, Err: err}
		}

		if attempt == maxAttempts {
			notify(policy, AttemptEvent{Attempt: attempt, Kind: kind, Err: err})
			break
		}

		delay := Backoff(policy, attempt)
		logger.Warn("Attempt %d/%d %s: %v; waiting %v", attempt, maxAttempts, kind, err, delay)
		notify(policy, AttemptEvent{Attempt: attempt, Kind: kind, Delay: delay, Err: err})

		if err := sleep(ctx, delay); err != nil {
			logger.Debug("Context cancelled during backoff")
			return Outcome[T]{Kind: OutcomeFailed, Reason: "cancelled", Attempts: attempt, Err: err}
		}
	}

	logger.Warn("Max retries (%d) exhausted", maxAttempts)
	return Outcome[T]{
		Kind:     OutcomeExhausted,
		Value:    zeroValue,
		Reason:   fmt.Sprintf("max retries (%d) exceeded: %v", maxAttempts, lastErr),
		Attempts: maxAttempts,
		Last:     lastKind,
		Err:      lastErr,
	}
}

func notify(policy RetryPolicy, event AttemptEvent) {
	if policy.OnAttempt != nil {
		policy.OnAttempt(event)
	}
}
