package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy(attempts int, sleeper *recordingSleeper) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    32 * time.Second,
		Sleep:       sleeper.sleep,
	}
}

func TestDoReturnsExhaustedAfterExactlyMaxAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	outcome := Do(context.Background(), testPolicy(5, sleeper), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", NewStatusError(503, "overloaded")
	}, nil)

	require.Equal(t, OutcomeExhausted, outcome.Kind)
	require.False(t, outcome.OK())
	require.Equal(t, 5, calls)
	require.Equal(t, 5, outcome.Attempts)
	require.Equal(t, OutcomeTransient, outcome.Last)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeper.delays)
}

func TestDoRetriesMalformedPayloads(t *testing.T) {
	sleeper := &recordingSleeper{}
	outcome := Do(context.Background(), testPolicy(4, sleeper), func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", NewMalformedPayloadError("replacement character in text", "a�b")
		}
		return "clean", nil
	}, nil)

	require.True(t, outcome.OK())
	require.Equal(t, "clean", outcome.Value)
	require.Equal(t, 3, outcome.Attempts)
	require.Len(t, sleeper.delays, 2)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	outcome := Do(context.Background(), testPolicy(5, sleeper), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("bad request body"), "")
	}, nil)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.delays)
}

func TestDoStopsOnDegradedError(t *testing.T) {
	outcome := Do(context.Background(), testPolicy(5, &recordingSleeper{}), func(ctx context.Context, attempt int) (int, error) {
		return 0, NewDegradedError(errors.New("circuit open"), "")
	}, nil)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, 1, outcome.Attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &recordingSleeper{}
	outcome := Do(ctx, testPolicy(5, sleeper), func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, errors.New("connection reset by peer")
	}, nil)

	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestDoReportsAttempts(t *testing.T) {
	var events []AttemptEvent
	policy := testPolicy(3, &recordingSleeper{})
	policy.OnAttempt = func(ev AttemptEvent) { events = append(events, ev) }

	Do(context.Background(), policy, func(ctx context.Context, attempt int) (int, error) {
		if attempt == 3 {
			return 7, nil
		}
		return 0, errors.New("timeout awaiting headers")
	}, nil)

	require.Len(t, events, 3)
	assert.Equal(t, OutcomeTransient, events[0].Kind)
	assert.Equal(t, time.Second, events[0].Delay)
	assert.Equal(t, 2*time.Second, events[1].Delay)
	assert.Equal(t, OutcomeSuccess, events[2].Kind)
	assert.Zero(t, events[2].Delay)
}

func TestBackoffScheduleDoublesAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 9, BaseDelay: time.Second, MaxDelay: 32 * time.Second}
	schedule := BackoffSchedule(policy)

	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second, 32 * time.Second,
	}, schedule)
	for i := 1; i < len(schedule); i++ {
		require.GreaterOrEqual(t, schedule[i], schedule[i-1])
	}
}

func TestBackoffRespectsSlowModelCeiling(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 120 * time.Second}
	assert.Equal(t, 64*time.Second, Backoff(policy, 7))
	assert.Equal(t, 120*time.Second, Backoff(policy, 8))
	assert.Equal(t, 120*time.Second, Backoff(policy, 40))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, OutcomeSuccess, Classify(ctx, nil))
	assert.Equal(t, OutcomeTransient, Classify(ctx, NewStatusError(429, "slow down")))
	assert.Equal(t, OutcomeTransient, Classify(ctx, NewStatusError(400, "bad")))
	assert.Equal(t, OutcomeMalformed, Classify(ctx, NewMalformedPayloadError("empty", "")))
	assert.Equal(t, OutcomeFailed, Classify(ctx, NewPermanentError(errors.New("x"), "")))
	assert.Equal(t, OutcomeFailed, Classify(ctx, context.Canceled))
}

func TestSleepContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := SleepContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
