package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunWithTimeout は指定時間内で処理を実行します
// 時間を超えた場合は処理の完了を待たずに context.DeadlineExceeded をラップして返します
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("process timed out after %v: %w", timeout, ctx.Err())
		}
		return fmt.Errorf("process canceled: %w", ctx.Err())
	}
}
