package revenue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revenue/internal/revenue"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func countingLoader(calls *atomic.Int32, window string) revenue.Loader {
	return func(context.Context) (revenue.MetricsSnapshot, error) {
		calls.Add(1)
		return revenue.MetricsSnapshot{Window: window, TotalInvoices: int(calls.Load())}, nil
	}
}

func TestSnapshotCacheLocalHitReturnsCopy(t *testing.T) {
	recorder := &countingRecorder{}
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), recorder)
	var calls atomic.Int32
	load := func(context.Context) (revenue.MetricsSnapshot, error) {
		calls.Add(1)
		return revenue.MetricsSnapshot{TopClients: []revenue.ClientRevenue{{ClientName: "Acme"}}}, nil
	}

	first, err := cache.Get(context.Background(), "k", load)
	require.NoError(t, err)
	first.TopClients[0].ClientName = "mutated"

	second, err := cache.Get(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, "Acme", second.TopClients[0].ClientName)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, 1, recorder.hits[revenue.TierLocal])
	require.Equal(t, 1, recorder.misses[revenue.TierLocal])
}

func TestSnapshotCacheExpiresAfterTTL(t *testing.T) {
	cache := revenue.NewSnapshotCache(nil, 20*time.Millisecond, quietLogger(), nil)
	var calls atomic.Int32

	_, err := cache.Get(context.Background(), "k", countingLoader(&calls, "k"))
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = cache.Get(context.Background(), "k", countingLoader(&calls, "k"))
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestSnapshotCacheDoesNotStoreFailures(t *testing.T) {
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	boom := errors.New("boom")

	_, err := cache.Get(context.Background(), "k", func(context.Context) (revenue.MetricsSnapshot, error) {
		return revenue.MetricsSnapshot{}, boom
	})
	require.ErrorIs(t, err, boom)

	var calls atomic.Int32
	_, err = cache.Get(context.Background(), "k", countingLoader(&calls, "k"))
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestSnapshotCacheConcurrentMissesShareOneLoad(t *testing.T) {
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(context.Context) (revenue.MetricsSnapshot, error) {
		calls.Add(1)
		<-release
		return revenue.MetricsSnapshot{Window: "k"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.Get(context.Background(), "k", load)
			if err != nil || snap.Window != "k" {
				t.Errorf("Get = %+v, %v", snap, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.EqualValues(t, 1, calls.Load())
}

func TestSnapshotCacheInvalidationWaitsForInFlightPopulate(t *testing.T) {
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	go func() {
		_, _ = cache.Get(context.Background(), "k", func(context.Context) (revenue.MetricsSnapshot, error) {
			calls.Add(1)
			close(started)
			<-release
			return revenue.MetricsSnapshot{Window: "stale"}, nil
		})
	}()
	<-started

	invalidated := make(chan struct{})
	go func() {
		cache.InvalidateLocal()
		close(invalidated)
	}()

	select {
	case <-invalidated:
		t.Fatal("invalidation completed while a populate was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-invalidated

	snap, err := cache.Get(context.Background(), "k", countingLoader(&calls, "fresh"))
	require.NoError(t, err)
	require.Equal(t, "fresh", snap.Window)
	require.EqualValues(t, 2, calls.Load())
}

// beforeCommand runs fn once, just before the first command with the given
// name reaches Redis.
type beforeCommand struct {
	name string
	once sync.Once
	fn   func()
}

func (h *beforeCommand) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *beforeCommand) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.name {
			h.once.Do(h.fn)
		}
		return next(ctx, cmd)
	}
}

func (h *beforeCommand) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestSnapshotCacheInvalidateBlocksReadersUntilVersionBump(t *testing.T) {
	_, client := newRedis(t)
	cache := revenue.NewSnapshotCache(client, time.Minute, quietLogger(), nil)
	ctx := context.Background()
	var calls atomic.Int32

	_, err := cache.Get(ctx, "k", countingLoader(&calls, "stale"))
	require.NoError(t, err)

	// a reader arriving while the version bump is on the wire must not
	// repopulate from the previous version
	client.AddHook(&beforeCommand{name: "incr", fn: func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = cache.Get(ctx, "k", countingLoader(&calls, "stale"))
		}()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}})

	require.NoError(t, cache.Invalidate(ctx, revenue.ReasonManual))

	snap, err := cache.Get(ctx, "k", countingLoader(&calls, "fresh"))
	require.NoError(t, err)
	require.Equal(t, "fresh", snap.Window)
}

func TestSnapshotCacheSharedTierAcrossProcesses(t *testing.T) {
	mr, client := newRedis(t)
	recorder := &countingRecorder{}
	a := revenue.NewSnapshotCache(client, time.Minute, quietLogger(), nil)
	b := revenue.NewSnapshotCache(client, time.Minute, quietLogger(), recorder)
	var calls atomic.Int32

	_, err := a.Get(context.Background(), "2024-01:2024-06-30", countingLoader(&calls, "2024-01"))
	require.NoError(t, err)
	require.True(t, mr.Exists("revenue:snapshot:2024-01:2024-06-30:1"))

	snap, err := b.Get(context.Background(), "2024-01:2024-06-30", countingLoader(&calls, "other"))
	require.NoError(t, err)
	require.Equal(t, "2024-01", snap.Window)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, 1, recorder.hits[revenue.TierRedis])

	require.NoError(t, a.Invalidate(context.Background(), revenue.ReasonSummaryRefresh))
	ver, err := a.Version(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestSnapshotCacheListenClearsLocalTier(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	listener := revenue.NewSnapshotCache(client, time.Minute, quietLogger(), nil)
	publisher := revenue.NewSnapshotCache(client, time.Minute, quietLogger(), nil)
	require.NoError(t, listener.Listen(ctx))
	require.NoError(t, local.Listen(ctx), "listening without redis is a no-op")

	var calls atomic.Int32
	_, err := listener.Get(ctx, "k", countingLoader(&calls, "k"))
	require.NoError(t, err)

	require.NoError(t, publisher.Invalidate(ctx, revenue.ReasonBatchImport))

	require.Eventually(t, func() bool {
		_, err := listener.Get(ctx, "k", countingLoader(&calls, "k"))
		return err == nil && calls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotCacheCanceledCaller(t *testing.T) {
	cache := revenue.NewSnapshotCache(nil, time.Minute, quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "k", func(context.Context) (revenue.MetricsSnapshot, error) {
			<-release
			return revenue.MetricsSnapshot{}, nil
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, revenue.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
}
