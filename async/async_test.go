package async_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnaccounts/async"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := async.Retry(3, time.Millisecond, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := async.Retry(3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := async.Retry(3, time.Millisecond, func() error {
			calls++
			return errors.New("never")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "3 attempts")
	})
}

func TestRetryNoBackoff(t *testing.T) {
	t.Parallel()

	calls := 0
	err := async.RetryNoBackoff(4, time.Millisecond, func() error {
		calls++
		return errors.New("never")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestAwait(t *testing.T) {
	t.Parallel()

	t.Run("condition becomes true", func(t *testing.T) {
		calls := 0
		err := async.Await(5, time.Millisecond, func() bool {
			calls++
			return calls >= 2
		})
		require.NoError(t, err)
	})

	t.Run("condition never true", func(t *testing.T) {
		err := async.Await(2, time.Millisecond, func() bool {
			return false
		}, "this should fail")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "this should fail")
	})
}
