// Package storetest holds the behavioural suite every store.UsageStore must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/skaler/pkg/store"
)

// Advance moves the clock observed by the store under test.
type Advance func(d time.Duration)

// RunUsageStoreTests runs a comprehensive test suite against a UsageStore implementation.
// Every subtest uses its own provider names, so the store is never cleared.
func RunUsageStoreTests(t *testing.T, s store.UsageStore, advance Advance) {
	ctx := context.Background()

	t.Run("Get unknown is zero", func(t *testing.T) {
		n, err := s.GetUsage(ctx, "unknown")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("Increment creates and counts", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.IncrementUsage(ctx, "inc"))
		}
		n, err := s.GetUsage(ctx, "inc")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("Reset clears counter", func(t *testing.T) {
		require.NoError(t, s.IncrementUsage(ctx, "reset"))
		require.NoError(t, s.ResetUsage(ctx, "reset"))
		n, err := s.GetUsage(ctx, "reset")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, s.ResetUsage(ctx, "never-seen"))
	})

	t.Run("Unknown is not blocked", func(t *testing.T) {
		blocked, err := s.IsBlocked(ctx, "free")
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("Block expires after ttl", func(t *testing.T) {
		require.NoError(t, s.Block(ctx, "expiring", 60*time.Second))

		blocked, err := s.IsBlocked(ctx, "expiring")
		require.NoError(t, err)
		assert.True(t, blocked)

		advance(59 * time.Second)
		blocked, err = s.IsBlocked(ctx, "expiring")
		require.NoError(t, err)
		assert.True(t, blocked, "still blocked before the deadline")

		advance(2 * time.Second)
		blocked, err = s.IsBlocked(ctx, "expiring")
		require.NoError(t, err)
		assert.False(t, blocked)

		blocked, err = s.IsBlocked(ctx, "expiring")
		require.NoError(t, err)
		assert.False(t, blocked, "expired block stays gone")
	})

	t.Run("Block overwrites previous deadline", func(t *testing.T) {
		require.NoError(t, s.Block(ctx, "longer", 10*time.Second))
		require.NoError(t, s.Block(ctx, "longer", 60*time.Second))
		advance(30 * time.Second)
		blocked, err := s.IsBlocked(ctx, "longer")
		require.NoError(t, err)
		assert.True(t, blocked)

		require.NoError(t, s.Block(ctx, "shorter", 60*time.Second))
		require.NoError(t, s.Block(ctx, "shorter", time.Second))
		advance(2 * time.Second)
		blocked, err = s.IsBlocked(ctx, "shorter")
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("Block keeps usage", func(t *testing.T) {
		require.NoError(t, s.IncrementUsage(ctx, "both"))
		require.NoError(t, s.Block(ctx, "both", time.Minute))
		n, err := s.GetUsage(ctx, "both")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Concurrent increments", func(t *testing.T) {
		const workers, perWorker = 10, 100
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					assert.NoError(t, s.IncrementUsage(ctx, "concurrent"))
				}
			}()
		}
		wg.Wait()

		n, err := s.GetUsage(ctx, "concurrent")
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), n)
	})
}
