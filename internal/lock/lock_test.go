package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMain(m *testing.M) {
	os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
	os.Exit(m.Run())
}

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locker := NewRedisLocker(client)
	locker.retryInterval = 5 * time.Millisecond
	return locker, mr
}

// 各実装に共通する振る舞いのテスト
func testLockerContract(t *testing.T, locker Locker) {
	ctx := context.Background()

	t.Run("取得と解放", func(t *testing.T) {
		lk, err := locker.Acquire(ctx, OfficeKey(1), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if lk.Key != "reservation_office_1" {
			t.Errorf("Key = %v", lk.Key)
		}
		if err := locker.Release(ctx, lk); err != nil {
			t.Errorf("Release() error = %v", err)
		}

		// 解放後は再取得できる
		lk2, err := locker.Acquire(ctx, OfficeKey(1), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() after release error = %v", err)
		}
		_ = locker.Release(ctx, lk2)
	})

	t.Run("競合時は待機時間を超えるとタイムアウト", func(t *testing.T) {
		lk, err := locker.Acquire(ctx, OfficeKey(2), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer locker.Release(ctx, lk)

		start := time.Now()
		_, err = locker.Acquire(ctx, OfficeKey(2), 80*time.Millisecond, time.Second)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Acquire() error = %v, want ErrTimeout", err)
		}
		if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
			t.Errorf("Acquire() returned after %v, want >= 80ms", elapsed)
		}
	})

	t.Run("別のキーは互いにブロックしない", func(t *testing.T) {
		lk, err := locker.Acquire(ctx, OfficeKey(3), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer locker.Release(ctx, lk)

		other, err := locker.Acquire(ctx, OfficeKey(4), 0, time.Second)
		if err != nil {
			t.Fatalf("Acquire() other key error = %v", err)
		}
		_ = locker.Release(ctx, other)
	})

	t.Run("他者のトークンでは解放できない", func(t *testing.T) {
		lk, err := locker.Acquire(ctx, OfficeKey(5), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer locker.Release(ctx, lk)

		forged := &Lock{Key: lk.Key, Token: "forged"}
		if err := locker.Release(ctx, forged); !errors.Is(err, ErrNotHeld) {
			t.Errorf("Release() error = %v, want ErrNotHeld", err)
		}
	})

	t.Run("待機中にコンテキストがキャンセルされる", func(t *testing.T) {
		lk, err := locker.Acquire(ctx, OfficeKey(6), 100*time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer locker.Release(ctx, lk)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := locker.Acquire(cctx, OfficeKey(6), time.Second, time.Second); !errors.Is(err, ErrTimeout) {
			t.Errorf("Acquire() error = %v, want ErrTimeout", err)
		}
	})
}

func TestRedisLocker(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	testLockerContract(t, locker)
}

func TestRedisLocker_HoldExpiry(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, OfficeKey(1), 0, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if ttl := mr.TTL(lk.Key); ttl != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", ttl)
	}

	// 保持時間を過ぎたロックは失効し、他者が取得できる
	mr.FastForward(11 * time.Second)

	other, err := locker.Acquire(ctx, OfficeKey(1), 0, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// 失効したロックの解放は他者のロックを消さない
	if err := locker.Release(ctx, lk); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Release() expired lock error = %v, want ErrNotHeld", err)
	}
	if got, _ := mr.Get(other.Key); got != other.Token {
		t.Errorf("lock value = %v, want %v", got, other.Token)
	}
}

func TestMemoryLocker(t *testing.T) {
	testLockerContract(t, NewMemoryLocker())
}

func TestMemoryLocker_HoldExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Now()
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "key", 0, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	now = now.Add(11 * time.Second)
	if _, err := locker.Acquire(ctx, "key", 0, 10*time.Second); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
	if err := locker.Release(ctx, lk); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Release() expired lock error = %v, want ErrNotHeld", err)
	}
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		inside   int32
		maxSeen  int32
		acquired int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := locker.Acquire(ctx, "key", 2*time.Second, time.Second)
			if err != nil {
				return
			}
			atomic.AddInt32(&acquired, 1)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = locker.Release(ctx, lk)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if acquired != 20 {
		t.Errorf("acquired = %d, want 20", acquired)
	}
}
