package xdlock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/omeyang/leasekit/pkg/observability/xlog"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

// OutcomeKind 表示临界区执行结果的类别。
type OutcomeKind int

const (
	// OutcomeSuccess 获取锁并且操作正常返回。
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeBusy 在等待时间内未能获取锁，操作未执行。
	OutcomeBusy
	// OutcomeInterrupted 等待期间 context 被取消，操作未执行。
	OutcomeInterrupted
	// OutcomeFailed 获取锁失败或操作返回错误，见 Outcome.Err。
	OutcomeFailed
)

// String 返回 OutcomeKind 的可读字符串表示。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBusy:
		return "busy"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeFailed:
		return "failed"
	default:
		return "OutcomeKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Outcome 是 RunExclusive 的结果。
type Outcome[T any] struct {
	Key  string
	Kind OutcomeKind
	// Value 仅在 OutcomeSuccess 时有意义。
	Value T
	// Err 在 OutcomeFailed 时设置：获取锁的错误或操作返回的错误。
	Err error
	// Warning 释放时发现的问题（ErrOwnershipLost、存储不可用），不影响 Kind。
	Warning error
	// Waited 获取锁的等待时长。
	Waited time.Duration
}

// OK 报告操作是否成功执行。
func (o Outcome[T]) OK() bool {
	return o.Kind == OutcomeSuccess
}

// String 返回面向调用方的结果描述。
func (o Outcome[T]) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("Lock acquired and operation for %s completed successfully (waited %dms).",
			o.Key, o.Waited.Milliseconds())
	case OutcomeBusy:
		return fmt.Sprintf("FAILURE: Resource %s is currently busy. Please try again later.", o.Key)
	case OutcomeInterrupted:
		return "Operation interrupted."
	case OutcomeFailed:
		return fmt.Sprintf("FAILURE: Operation for %s failed: %v", o.Key, o.Err)
	default:
		return o.Kind.String()
	}
}

// RunExclusive 在 key 对应的锁保护下执行 op。
//
// 最多等待 maxWait 获取锁；获取后 op 收到锁 context（所有权丢失时被取消）。
// 释放总会执行：op 返回错误或 panic 时也会先释放锁，panic 随后继续向上传播。
//
// 结果映射：
//   - 超时 → OutcomeBusy
//   - 等待期间 ctx 取消 → OutcomeInterrupted
//   - 获取失败、op 返回错误 → OutcomeFailed
//   - op 正常返回 → OutcomeSuccess
func RunExclusive[T any](ctx context.Context, r *Registry, key string, maxWait time.Duration,
	op func(ctx context.Context) (T, error)) (out Outcome[T]) {
	out.Key = key
	switch {
	case ctx == nil:
		out.Kind, out.Err = OutcomeFailed, ErrNilContext
		return out
	case r == nil:
		out.Kind, out.Err = OutcomeFailed, ErrNilRegistry
		return out
	case op == nil:
		out.Kind, out.Err = OutcomeFailed, ErrNilOperation
		return out
	}

	ctx, span := xmetrics.Start(ctx, r.opts.recorder, xmetrics.SpanOptions{
		Component: "xdlock",
		Operation: "xdlock.RunExclusive",
		Attrs:     []xmetrics.Attr{xmetrics.String("lock.key", key)},
	})
	defer func() {
		span.End(xmetrics.Result{
			Err: out.Err,
			Attrs: []xmetrics.Attr{
				xmetrics.String("lock.outcome", out.Kind.String()),
				xmetrics.Int64("lock.waited_ms", out.Waited.Milliseconds()),
			},
		})
	}()

	lock, err := r.Obtain(key)
	if err != nil {
		out.Kind, out.Err = OutcomeFailed, err
		return out
	}

	r.logger.Debug(ctx, "attempting exclusive operation", xlog.LockKey(key))
	start := time.Now()
	lctx, status, err := lock.TryLock(ctx, maxWait)
	out.Waited = time.Since(start)

	switch status {
	case StatusAcquired:
	case StatusTimedOut:
		out.Kind = OutcomeBusy
		r.logger.Info(ctx, "resource busy", xlog.LockKey(key), xlog.Waited(out.Waited))
		return out
	case StatusInterrupted:
		out.Kind = OutcomeInterrupted
		r.logger.Info(ctx, "operation interrupted while waiting for lock", xlog.LockKey(key))
		return out
	default:
		out.Kind, out.Err = OutcomeFailed, err
		r.logger.Error(ctx, "lock acquisition failed", xlog.LockKey(key), xlog.Err(err))
		return out
	}

	defer func() {
		if uerr := lock.Unlock(lctx); uerr != nil {
			out.Warning = uerr
		}
	}()

	r.logger.Info(ctx, "lock acquired", xlog.LockKey(key), xlog.Waited(out.Waited))
	value, err := op(lctx)
	if err != nil {
		out.Kind, out.Err = OutcomeFailed, err
		return out
	}
	out.Kind, out.Value = OutcomeSuccess, value
	return out
}
