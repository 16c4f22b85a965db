package xdlock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xlog"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

// Status 表示一次 TryLock 的结果。
type Status int

const (
	// StatusAcquired 获取成功（包括重入）。
	StatusAcquired Status = iota + 1
	// StatusTimedOut 在 maxWait 内未能获取，本地和存储中都没有残留。
	StatusTimedOut
	// StatusInterrupted 等待期间 context 被取消。
	StatusInterrupted
	// StatusFailed 获取失败，原因见返回的 error。
	StatusFailed
)

// String 返回 Status 的可读字符串表示。
func (s Status) String() string {
	switch s {
	case StatusAcquired:
		return "acquired"
	case StatusTimedOut:
		return "timed_out"
	case StatusInterrupted:
		return "interrupted"
	case StatusFailed:
		return "failed"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// outcome 返回指标使用的 outcome 属性值。
func (s Status) outcome() string {
	switch s {
	case StatusAcquired:
		return xmetrics.OutcomeAcquired
	case StatusTimedOut:
		return xmetrics.OutcomeTimedOut
	case StatusInterrupted:
		return xmetrics.OutcomeInterrupted
	default:
		return xmetrics.OutcomeFailed
	}
}

// Lock 是一个 key 对应的锁对象，由 Registry.Obtain 创建，同一 key 在同一注册表中只有一个实例。
//
// 进程内通过 size=1 的 channel 串行化不同持有者；
// 跨进程通过存储中的租约记录互斥。持有者标识随 context 传递，
// 同一持有者的嵌套 TryLock 只增加计数，不访问存储。
type Lock struct {
	key      string
	storeKey string
	reg      *Registry

	// sem 是 size=1 的 channel，用作进程内互斥量：
	//   - 发送成功 = 获取
	//   - 接收 = 释放
	sem chan struct{}

	mu         sync.Mutex
	holder     string
	token      string
	count      int
	lost       bool
	acquiredAt time.Time
	cancel     context.CancelCauseFunc
	renewal    *renewal
}

func newLock(reg *Registry, key string) *Lock {
	return &Lock{
		key:      key,
		storeKey: reg.opts.storeKey(key),
		reg:      reg,
		sem:      make(chan struct{}, 1),
	}
}

// Key 返回锁的 key（不含命名空间）。
func (l *Lock) Key() string {
	return l.key
}

// IsHeld 报告本进程当前是否持有该锁且所有权未丢失。
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count > 0 && !l.lost
}

// HoldCount 返回当前持有者的重入计数，未持有时为 0。
func (l *Lock) HoldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// TryLock 在 maxWait 内尝试获取锁。
//
// 获取成功时返回派生 context，它携带持有者标识，
// 在锁完全释放时取消，在续期发现所有权丢失时以 ErrOwnershipLost 为原因取消。
// 临界区应使用返回的 context，并以它调用 Unlock。
//
// 返回值：
//   - StatusAcquired：获取成功；context 所属持有者已持有时为重入，只增加计数
//   - StatusTimedOut：超时，error 为 nil
//   - StatusInterrupted：ctx 被取消，error 为 nil
//   - StatusFailed：存储持续不可用、注册表已关闭等，error 说明原因
//
// 未获取成功时返回的 context 即传入的 ctx。
func (l *Lock) TryLock(ctx context.Context, maxWait time.Duration) (context.Context, Status, error) {
	if ctx == nil {
		return nil, StatusFailed, ErrNilContext
	}
	if l.reg.closed.Load() {
		return ctx, StatusFailed, ErrRegistryClosed
	}
	maxWait = max(maxWait, 0)
	start := time.Now()
	logger := l.reg.logger

	holder, hasHolder := HolderFrom(ctx)
	if hasHolder {
		if reentered, err := l.reenter(holder); reentered || err != nil {
			if err != nil {
				return ctx, StatusFailed, err
			}
			l.reg.opts.recorder.RecordAcquire(ctx, xmetrics.OutcomeReentered, 0)
			return ctx, StatusAcquired, nil
		}
	} else {
		holder = uuid.NewString()
	}
	if ctx.Err() != nil {
		l.recordAcquire(ctx, StatusInterrupted, start)
		return ctx, StatusInterrupted, nil
	}

	logger.Debug(ctx, "attempting to acquire lock", xlog.LockKey(l.key), xlog.Holder(holder))

	deadline := start.Add(maxWait)
	holdCtx := ctx
	status, err := l.acquireLocal(ctx, maxWait)
	if status == StatusAcquired {
		holdCtx, status, err = l.acquireLease(ctx, holder, deadline)
	}
	l.recordAcquire(ctx, status, start)
	if status != StatusAcquired {
		if err != nil {
			logger.Warn(ctx, "lock acquisition failed", xlog.LockKey(l.key), xlog.Err(err))
		}
		return ctx, status, err
	}

	logger.Debug(ctx, "lock acquired", xlog.LockKey(l.key), xlog.Holder(holder), xlog.Waited(time.Since(start)))
	return holdCtx, StatusAcquired, nil
}

// reenter 同一持有者重入时增加计数。
func (l *Lock) reenter(holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 || l.holder != holder {
		return false, nil
	}
	if l.lost {
		return false, ErrOwnershipLost
	}
	l.count++
	return true, nil
}

// acquireLocal 等待进程内互斥量。
func (l *Lock) acquireLocal(ctx context.Context, maxWait time.Duration) (Status, error) {
	select {
	case l.sem <- struct{}{}:
		return StatusAcquired, nil
	default:
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		return StatusAcquired, nil
	case <-timer.C:
		return StatusTimedOut, nil
	case <-ctx.Done():
		return StatusInterrupted, nil
	case <-l.reg.done:
		return StatusFailed, ErrRegistryClosed
	}
}

// acquireLease 持有进程内互斥量后轮询存储。
// 未成功时释放互斥量。
func (l *Lock) acquireLease(ctx context.Context, holder string, deadline time.Time) (context.Context, Status, error) {
	token, err := l.reg.opts.tokenFunc()
	if err != nil {
		<-l.sem
		return ctx, StatusFailed, fmt.Errorf("xdlock: generate owner token: %w", err)
	}

	status, err := l.poll(ctx, token, deadline)
	if status != StatusAcquired {
		<-l.sem
		return ctx, status, err
	}

	l.mu.Lock()
	if l.reg.closed.Load() {
		l.mu.Unlock()
		_, _ = l.reg.release(ctx, l.storeKey, token) //nolint:errcheck // 尽力释放，失败时等待 TTL 过期
		<-l.sem
		return ctx, StatusFailed, ErrRegistryClosed
	}
	holdCtx, cancel := context.WithCancelCause(WithHolder(ctx, holder))
	l.holder = holder
	l.token = token
	l.count = 1
	l.lost = false
	l.acquiredAt = time.Now()
	l.cancel = cancel
	l.renewal = l.startRenewal(ctx, token)
	l.mu.Unlock()
	return holdCtx, StatusAcquired, nil
}

// poll 以固定间隔调用 AcquireIfAbsent，直到成功、超时或失败。
//
// 整次调用使用同一个 token。连续 ErrStoreUnavailable 超过 storeRetries 次返回失败。
// 超时判断只在一次尝试之后进行，因此 maxWait 为 0 时仍会尝试一次。
// 未获取成功且最后一次写入结果不确定时，按 token 尽力删除记录，
// 避免响应丢失的写入占住 key 直到 TTL 过期。
func (l *Lock) poll(ctx context.Context, token string, deadline time.Time) (status Status, err error) {
	opts := l.reg.opts
	failures := 0
	uncertain := false
	defer func() {
		if status != StatusAcquired && uncertain {
			_, _ = l.reg.release(ctx, l.storeKey, token) //nolint:errcheck // 尽力清理，失败时等待 TTL 过期
		}
	}()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		ok, err := l.reg.acquire(ctx, l.storeKey, token)
		if err == nil && !ok && uncertain {
			// 上一次写入可能已成功但响应丢失，检查记录是否属于本 token
			ok, err = l.reg.extend(ctx, l.storeKey, token)
		}
		switch {
		case err == nil && ok:
			return StatusAcquired, nil
		case err == nil:
			failures = 0
			uncertain = false
		case ctx.Err() != nil:
			// 取消时请求可能已送达存储
			uncertain = true
			return StatusInterrupted, nil
		case xlease.IsUnavailable(err):
			failures++
			uncertain = true
			if failures > opts.storeRetries {
				return StatusFailed, err
			}
			l.reg.logger.Warn(ctx, "lease store unavailable, retrying",
				xlog.LockKey(l.key), slog.Int("attempt", failures), xlog.Err(err))
		default:
			return StatusFailed, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return StatusTimedOut, nil
		}
		timer.Reset(min(opts.retryInterval, remaining))
		select {
		case <-timer.C:
		case <-ctx.Done():
			return StatusInterrupted, nil
		case <-l.reg.done:
			return StatusFailed, ErrRegistryClosed
		}
	}
}

// Unlock 释放一次持有。
//
// 重入计数归零时停止续期并等待其退出，删除存储中的记录，最后释放进程内互斥量。
// ctx 必须携带持有者标识（通常是 TryLock 返回的 context）。
//
// 返回值：
//   - nil：释放成功，或仍有重入计数
//   - ErrIllegalState：调用方不是当前持有者，锁状态不变
//   - ErrOwnershipLost：本地状态已清理，但租约在释放前已丢失
//   - 包装 xlease.ErrStoreUnavailable 的错误：本地状态已清理，记录将由 TTL 过期
//   - ErrRegistryClosed：注册表关闭时已强制释放
func (l *Lock) Unlock(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	holder, _ := HolderFrom(ctx)

	l.mu.Lock()
	if l.count == 0 || holder == "" || holder != l.holder {
		l.mu.Unlock()
		if l.reg.closed.Load() && holder != "" {
			return ErrRegistryClosed
		}
		l.reg.logger.Warn(ctx, "unlock by a caller that does not hold the lock",
			xlog.LockKey(l.key), xlog.Holder(holder))
		return ErrIllegalState
	}
	l.count--
	if l.count > 0 {
		l.mu.Unlock()
		return nil
	}
	// 清空 holder 后，新的持有者仍需先获得 sem，因此不会与下面的释放交错
	l.holder = ""
	r := l.renewal
	l.renewal = nil
	l.mu.Unlock()

	return l.finishRelease(ctx, r, nil)
}

// finishRelease 停止续期、删除记录并释放互斥量。调用方已将计数置零。
func (l *Lock) finishRelease(ctx context.Context, r *renewal, cause error) error {
	// 不能持有 mu 等待续期 goroutine，它在标记丢失时需要获取 mu
	r.stop()

	l.mu.Lock()
	lost := l.lost
	token := l.token
	cancel := l.cancel
	acquiredAt := l.acquiredAt
	l.token = ""
	l.lost = false
	l.cancel = nil
	l.mu.Unlock()

	cancel(cause)

	var err error
	if lost {
		err = ErrOwnershipLost
	} else {
		ok, rerr := l.reg.release(ctx, l.storeKey, token)
		switch {
		case rerr != nil:
			err = fmt.Errorf("xdlock: release %q: %w", l.key, rerr)
		case !ok:
			err = ErrOwnershipLost
		}
	}
	<-l.sem

	held := time.Since(acquiredAt)
	l.reg.opts.recorder.RecordHold(ctx, held)
	if err != nil {
		l.reg.logger.Warn(ctx, "lock released with warning", xlog.LockKey(l.key), xlog.Held(held), xlog.Err(err))
	} else {
		l.reg.logger.Debug(ctx, "lock released", xlog.LockKey(l.key), xlog.Held(held))
	}
	return err
}

// forceRelease 由 Registry.Close 调用，无论重入计数释放当前持有。
func (l *Lock) forceRelease(ctx context.Context) error {
	l.mu.Lock()
	if l.count == 0 {
		l.mu.Unlock()
		return nil
	}
	l.count = 0
	l.holder = ""
	r := l.renewal
	l.renewal = nil
	l.mu.Unlock()

	err := l.finishRelease(ctx, r, ErrRegistryClosed)
	if err != nil {
		return fmt.Errorf("%s: %w", l.key, err)
	}
	return nil
}

func (l *Lock) recordAcquire(ctx context.Context, status Status, start time.Time) {
	l.reg.opts.recorder.RecordAcquire(ctx, status.outcome(), time.Since(start))
}
