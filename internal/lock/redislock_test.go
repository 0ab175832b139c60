package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pay/internal/lock"
)

func newTestLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond}
}

func TestWithLockSerializesSameKey(t *testing.T) {
	locker := newTestLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := locker.PaymentKey("req-1")
	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, key, time.Second, func(context.Context) error {
				require.EqualValues(t, 1, atomic.AddInt32(&inside, 1))
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestWithLockReleasedOnError(t *testing.T) {
	locker := newTestLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := locker.PaymentKey("req-2")
	wantErr := context.DeadlineExceeded
	err := locker.WithLock(ctx, key, time.Second, func(context.Context) error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	// The key must be free for the next caller immediately.
	err = locker.WithLock(ctx, key, time.Second, func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestPaymentKeyPrefix(t *testing.T) {
	require.Equal(t, "pay:lock:abc", lock.Locker{}.PaymentKey("abc"))
	require.Equal(t, "x:abc", lock.Locker{Prefix: "x:"}.PaymentKey("abc"))
}
