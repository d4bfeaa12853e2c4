// Package lock はオフィス単位の予約ロックを提供します
// 予約作成はこのロックの中で重複チェックと登録を行います
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultWaitTimeout はロック取得を待つ既定の時間です
	DefaultWaitTimeout = 3 * time.Second
	// DefaultHoldTimeout はロックを保持できる既定の時間です。超過したロックは失効します
	DefaultHoldTimeout = 10 * time.Second
	// DefaultRetryInterval はロック取得を再試行する間隔です
	DefaultRetryInterval = 50 * time.Millisecond
)

var (
	// ErrTimeout は待機時間内にロックを取得できなかったことを表します。再試行可能です
	ErrTimeout = errors.New("lock: timed out waiting for lock")
	// ErrNotHeld は解放時点でロックが失効していたか、他者に取得されていたことを表します
	ErrNotHeld = errors.New("lock: lock is not held")
)

// Lock は取得済みのロックです
type Lock struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker は名前付きのロックを扱うインターフェースです
type Locker interface {
	// Acquire は wait の間ロック取得を試み、取得できたロックは hold 経過後に失効します
	Acquire(ctx context.Context, key string, wait, hold time.Duration) (*Lock, error)
	// Release は自分が保持しているロックのみを解放します
	Release(ctx context.Context, l *Lock) error
}

// OfficeKey はオフィスごとのロック名を返します
func OfficeKey(officeID int64) string {
	return fmt.Sprintf("reservation_office_%d", officeID)
}

func newToken() string {
	return uuid.NewString()
}

// poll は try が成功するか待機時間を超えるまで interval ごとに再試行します
func poll(ctx context.Context, wait, interval time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}
