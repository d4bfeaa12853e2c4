package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/go-redis/redis/v8"
)

// releaseScript はトークンが一致する場合のみキーを削除します
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker はRedisを使ったプロセス間ロックです
type RedisLocker struct {
	client        redis.UniversalClient
	retryInterval time.Duration
}

// NewRedisLocker は新しいRedisLockerを作成します
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client:        client,
		retryInterval: DefaultRetryInterval,
	}
}

// Acquire は SET NX PX でロックを取得します
func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (*Lock, error) {
	ctx, seg := xray.BeginSubsegment(ctx, "RedisLocker.Acquire")
	defer seg.Close(nil)

	token := newToken()
	var acquiredAt time.Time
	err := poll(ctx, wait, l.retryInterval, func() (bool, error) {
		acquiredAt = time.Now()
		ok, err := l.client.SetNX(ctx, key, token, hold).Result()
		if err != nil {
			return false, fmt.Errorf("failed to set lock key %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		seg.Close(err)
		return nil, err
	}

	return &Lock{Key: key, Token: token, ExpiresAt: acquiredAt.Add(hold)}, nil
}

// Release はトークンを照合してロックを解放します
func (l *RedisLocker) Release(ctx context.Context, lk *Lock) error {
	ctx, seg := xray.BeginSubsegment(ctx, "RedisLocker.Release")
	defer seg.Close(nil)

	n, err := releaseScript.Run(ctx, l.client, []string{lk.Key}, lk.Token).Int64()
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to release lock %s: %w", lk.Key, err)
	}
	if n == 0 {
		seg.Close(ErrNotHeld)
		return fmt.Errorf("%w: %s", ErrNotHeld, lk.Key)
	}
	return nil
}
