package locks

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func testMutualExclusion(t *testing.T, lk locker, key string) {
	t.Helper()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lk.Lock(context.Background(), key)
			if !assertNoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
}

func assertNoError(t *testing.T, err error) bool {
	if err != nil {
		t.Errorf("lock: %v", err)
		return false
	}
	return true
}

func TestLocal_MutualExclusion(t *testing.T) {
	testMutualExclusion(t, NewLocal(), "BTC_USDT")
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	lk := NewLocal()

	unlockBTC, err := lk.Lock(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	defer unlockBTC()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockETH, err := lk.Lock(ctx, "ETH_USDT")
	require.NoError(t, err)
	unlockETH()
}

func TestLocal_ContextCancel(t *testing.T) {
	lk := NewLocal()

	unlock, err := lk.Lock(context.Background(), "BTC_USDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lk.Lock(ctx, "BTC_USDT")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := lk.Lock(context.Background(), "BTC_USDT")
	require.NoError(t, err, "double unlock must not free a slot twice")
	again()
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	return client
}

func TestRedis_MutualExclusion_Integration(t *testing.T) {
	client := newTestRedis(t)
	lk := NewRedis(zap.NewNop(), client, time.Minute)

	testMutualExclusion(t, lk, "test_"+t.Name())
}

func TestRedis_ReleaseKeepsForeignLock_Integration(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	key := "test_" + t.Name()

	lk := NewRedis(zap.NewNop(), client, time.Minute)
	unlock, err := lk.Lock(ctx, key)
	require.NoError(t, err)

	// simulate expiry and takeover by another instance
	require.NoError(t, client.Set(ctx, keyPrefix+key, "other", time.Minute).Err())
	unlock()

	val, err := client.Get(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	require.Equal(t, "other", val)
	require.NoError(t, client.Del(ctx, keyPrefix+key).Err())
}
