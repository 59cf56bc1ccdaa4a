package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := fastPolicy(5)
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var retried []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }

	calls := 0
	_, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	_, err := Do(ctx, p, nil, func(ctx context.Context) (int, error) {
		cancel()
		return 0, errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_DelayIsCapped(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	assert.Equal(t, 20*time.Millisecond, p.Delay(2))
	assert.Equal(t, 40*time.Millisecond, p.Delay(5))
}
