package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker はプロセス内だけで有効なロックです
// ENV=LOCAL の単一プロセス実行とテストで利用します
type MemoryLocker struct {
	mu            sync.Mutex
	entries       map[string]memoryEntry
	now           func() time.Time
	retryInterval time.Duration
}

// NewMemoryLocker は新しいMemoryLockerを作成します
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		retryInterval: 5 * time.Millisecond,
	}
}

// Acquire はキーが未使用か失効済みの場合にロックを取得します
func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (*Lock, error) {
	token := newToken()
	var acquired *Lock
	err := poll(ctx, wait, l.retryInterval, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.now()
		if e, ok := l.entries[key]; ok && now.Before(e.expiresAt) {
			return false, nil
		}
		l.entries[key] = memoryEntry{token: token, expiresAt: now.Add(hold)}
		acquired = &Lock{Key: key, Token: token, ExpiresAt: now.Add(hold)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

// Release はトークンが一致し、失効していない場合のみロックを解放します
func (l *MemoryLocker) Release(_ context.Context, lk *Lock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[lk.Key]
	if !ok || e.token != lk.Token || !l.now().Before(e.expiresAt) {
		return fmt.Errorf("%w: %s", ErrNotHeld, lk.Key)
	}
	delete(l.entries, lk.Key)
	return nil
}
