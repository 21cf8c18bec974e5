package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/repo"
)

type countingLog struct {
	*repo.MemoryRepository
	lists  atomic.Int32
	delay  time.Duration
	during func()
}

func (c *countingLog) ListRecentTurns(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error) {
	c.lists.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.during != nil {
		c.during()
	}
	return c.MemoryRepository.ListRecentTurns(ctx, subscriberID, limit)
}

func newStore(t *testing.T, maxTurns int) (*Store, *countingLog) {
	t.Helper()
	log := &countingLog{MemoryRepository: repo.NewMemory()}
	c := NewLocalCache(time.Minute, time.Minute)
	t.Cleanup(c.Close)
	return NewStore(log, c, maxTurns, logging.Discard()), log
}

func TestHistoryIsOldestFirstAndCapped(t *testing.T) {
	store, _ := newStore(t, 4)
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleUser, fmt.Sprintf("m%d", i)))
	}

	turns, err := store.GetHistory(ctx, "s1", 100)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "m3", turns[0].Content)
	assert.Equal(t, "m6", turns[3].Content)

	turns, err = store.GetHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, []string{"m5", "m6"}, []string{turns[0].Content, turns[1].Content})
}

func TestWriteInvalidatesCachedHistory(t *testing.T) {
	store, log := newStore(t, 10)
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleUser, "hola"))

	_, err := store.GetHistory(ctx, "s1", 10)
	require.NoError(t, err)
	_, err = store.GetHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), log.lists.Load(), "second read is served from cache")

	require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleAssistant, "bienvenido"))
	turns, err := store.GetHistory(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "bienvenido", turns[1].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, int32(2), log.lists.Load())
}

func TestWriteDuringLoadSkipsCacheFill(t *testing.T) {
	store, log := newStore(t, 10)
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleUser, "hola"))

	log.during = func() {
		log.during = nil
		require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleAssistant, "bienvenido"))
	}
	_, err := store.GetHistory(ctx, "s1", 10)
	require.NoError(t, err)

	turns, err := store.GetHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
	assert.Equal(t, int32(2), log.lists.Load(), "stale load was not cached")
	assert.Zero(t, store.pendingLoads())
}

func TestWritesDoNotAccumulateState(t *testing.T) {
	store, _ := newStore(t, 10)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		sub := fmt.Sprintf("s%d", i)
		require.NoError(t, store.AddMessage(ctx, sub, domain.RoleUser, "hola"))
		_, err := store.GetHistory(ctx, sub, 10)
		require.NoError(t, err)
	}
	assert.Zero(t, store.pendingLoads())
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	store, log := newStore(t, 10)
	log.delay = 50 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "s1", domain.RoleUser, "hola"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, err := store.GetHistory(ctx, "s1", 10)
			assert.NoError(t, err)
			assert.Len(t, turns, 1)
		}()
	}
	wg.Wait()
	assert.Less(t, log.lists.Load(), int32(8))
	assert.Zero(t, store.pendingLoads())
}

func TestLocalCacheExpiresAndSweeps(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewLocalCache(20*time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "s1", []domain.Turn{{Content: "x"}}))

	_, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok, _ = c.Get(ctx, "s1")
	assert.False(t, ok)

	c.Close()
	c.Close()
}

func TestLocalCacheReturnsCopies(t *testing.T) {
	c := NewLocalCache(time.Minute, time.Minute)
	defer c.Close()
	ctx := context.Background()
	src := []domain.Turn{{Content: "a"}}
	require.NoError(t, c.Set(ctx, "s1", src))
	src[0].Content = "mutated"

	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got[0].Content)
}
