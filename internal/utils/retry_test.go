package utils_test

import (
	"context"
	"errors"
	"lora-runner/internal/utils"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetrySucceedsOnLastAttempt(t *testing.T) {
	calls := 0
	err := utils.Retry(context.Background(), utils.RetryPolicy{Attempts: 3}, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	err := utils.Retry(context.Background(), utils.RetryPolicy{Attempts: 3}, "test", func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("permanent")
	policy := utils.RetryPolicy{Attempts: 3}.WithRetryable(func(err error) bool {
		return !errors.Is(err, permanent)
	})

	calls := 0
	err := utils.Retry(context.Background(), policy, "test", func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := utils.Retry(context.Background(), utils.RetryPolicy{}, "test", func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := utils.DefaultRetryPolicy()
	assert.Equal(t, uint(3), policy.Attempts)
	assert.Equal(t, utils.DefaultRetryDelay, policy.Delay)
}
