package wallets

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockRegistryTryAcquire(t *testing.T) {
	t.Parallel()
	registry := NewLockRegistry()

	require.True(t, registry.TryAcquire(1))
	assert.False(t, registry.TryAcquire(1))
	assert.True(t, registry.IsBusy(1))

	// a different wallet is unaffected
	assert.True(t, registry.TryAcquire(2))

	registry.Release(1)
	assert.False(t, registry.IsBusy(1))
	assert.True(t, registry.TryAcquire(1))
}

func TestLockRegistryReleaseUnheld(t *testing.T) {
	t.Parallel()
	registry := NewLockRegistry()

	// must not panic or wedge anything
	registry.Release(42)
	assert.True(t, registry.TryAcquire(42))
}

func TestLockRegistryConcurrentAcquire(t *testing.T) {
	t.Parallel()
	registry := NewLockRegistry()

	const goroutines = 100
	var acquired int32
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if registry.TryAcquire(7) {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired,
		"exactly one goroutine should win the lock")
}
