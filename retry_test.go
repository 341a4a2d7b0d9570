package webfile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts uint64) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := fastRetry(5).Do(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: refused", ErrConnection)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(func() error {
		calls++
		return fmt.Errorf("%w: still down", ErrServer)
	})
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := fastRetry(5).Do(func() error {
		calls++
		return fmt.Errorf("%w: gone", ErrClient)
	})
	assert.ErrorIs(t, err, ErrClient)
	assert.Equal(t, 1, calls)
}

func TestRetrySingleAttempt(t *testing.T) {
	calls := 0
	err := fastRetry(1).Do(func() error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroValueRunsOnce(t *testing.T) {
	calls := 0
	err := RetryPolicy{}.Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
