package xdlock

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xlog"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

// renewal 是一把锁的续期任务：获取成功时启动，释放时停止并等待退出，
// 续期失败时自行结束。
type renewal struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop 停止续期并等待 goroutine 退出，可重复调用。
func (r *renewal) stop() {
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

// startRenewal 启动续期 goroutine。调用方持有 l.mu。
//
// 续期使用与调用方取消解耦的 context：调用方的 ctx 被取消不影响已获取的租约，
// 只有 Unlock 或 Registry.Close 会停止续期。
func (l *Lock) startRenewal(ctx context.Context, token string) *renewal {
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &renewal{cancel: cancel, done: make(chan struct{})}

	go func() {
		cause := l.renewLoop(rctx, token)
		notify := cause != nil && l.markLost(token, cause)
		// 先关闭 done 再执行回调，回调中调用 Unlock 不会死锁
		close(r.done)
		if notify {
			l.reportLost(rctx, cause)
		}
	}()
	return r
}

// renewLoop 周期性续期，返回 nil 表示被停止，否则返回所有权丢失的原因。
func (l *Lock) renewLoop(ctx context.Context, token string) error {
	ticker := time.NewTicker(l.reg.opts.renewEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ok, err := l.renewOnce(ctx, token)
		if ctx.Err() != nil {
			// 续期过程中被停止，结果无意义
			return nil
		}
		switch {
		case err != nil:
			l.reg.opts.recorder.RecordRenew(ctx, xmetrics.RenewError)
			return fmt.Errorf("%w: renewal retries exhausted: %w", ErrOwnershipLost, err)
		case !ok:
			l.reg.opts.recorder.RecordRenew(ctx, xmetrics.RenewLost)
			return ErrOwnershipLost
		default:
			l.reg.opts.recorder.RecordRenew(ctx, xmetrics.RenewOK)
		}
	}
}

// renewOnce 执行一次续期，ErrStoreUnavailable 按固定间隔重试 storeRetries 次。
func (l *Lock) renewOnce(ctx context.Context, token string) (bool, error) {
	opts := l.reg.opts
	return retry.NewWithData[bool](
		retry.Attempts(uint(opts.storeRetries)+1),
		retry.Delay(opts.retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(xlease.IsUnavailable),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			l.reg.logger.Debug(ctx, "lease renewal failed, retrying",
				xlog.LockKey(l.key), xlog.Err(err))
		}),
	).Do(func() (bool, error) {
		return l.reg.extend(ctx, l.storeKey, token)
	})
}

// markLost 将锁标记为所有权丢失并取消锁 context。
// token 不匹配（已释放或已被新的获取替换）时不做任何事，返回是否由本次调用标记。
func (l *Lock) markLost(token string, cause error) bool {
	l.mu.Lock()
	if l.token != token || l.lost {
		l.mu.Unlock()
		return false
	}
	l.lost = true
	cancel := l.cancel
	l.mu.Unlock()

	cancel(cause)
	return true
}

// reportLost 记录日志和指标，并执行所有权丢失回调。
func (l *Lock) reportLost(ctx context.Context, cause error) {
	l.reg.logger.Warn(ctx, "lock ownership lost while held", xlog.LockKey(l.key), xlog.Err(cause))
	l.reg.opts.recorder.RecordLost(ctx)
	if fn := l.reg.opts.onOwnershipLost; fn != nil {
		fn(l.key, cause)
	}
}
