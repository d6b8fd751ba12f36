package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"taskportal/internal/model"
)

// DefaultRetryMaxElapsed 未配置时的最长重试时间
const DefaultRetryMaxElapsed = 30 * time.Second

// IsTransient 只有建表冲突和存储不可用才会在进程内重试
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrProvisioningConflict) || errors.Is(err, model.ErrStoreUnavailable)
}

// Retry 以指数退避重试 fn，直到成功、遇到非瞬时错误或超过 maxElapsed
func Retry(ctx context.Context, maxElapsed time.Duration, fn func(ctx context.Context) error) error {
	if maxElapsed <= 0 {
		maxElapsed = DefaultRetryMaxElapsed
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil || IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}
