package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningGuard_TryLock(t *testing.T) {
	var g runningGuard

	require.True(t, g.TryLock("page-1"))
	assert.False(t, g.TryLock("page-1"), "same key twice")
	assert.True(t, g.TryLock("page-2"))
	assert.True(t, g.Running("page-1"))

	g.Unlock("page-1")
	g.Unlock("page-2")
	assert.False(t, g.Running("page-1"))
	assert.True(t, g.TryLock("page-1"), "free again after unlock")
	g.Unlock("page-1")
}

func TestRunningGuard_WaitAll(t *testing.T) {
	var g runningGuard
	require.NoError(t, g.WaitAll(context.Background()), "idle guard returns at once")

	require.True(t, g.TryLock("page-a"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("page-a")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, g.WaitAll(ctx))
}

func TestRunningGuard_WaitAllHonoursContext(t *testing.T) {
	var g runningGuard
	require.True(t, g.TryLock("stuck"))
	defer g.Unlock("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.WaitAll(ctx), context.DeadlineExceeded)
}
