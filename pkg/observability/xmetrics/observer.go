package xmetrics

import (
	"context"
	"time"
)

// Status 表示观测结果状态。
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// 获取结果（outcome 属性取值）。
const (
	OutcomeAcquired    = "acquired"
	OutcomeReentered   = "reentered"
	OutcomeTimedOut    = "timed_out"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// 续期结果（result 属性取值）。
const (
	RenewOK    = "ok"
	RenewLost  = "lost"
	RenewError = "error"
)

// Attr 表示观测属性。
type Attr struct {
	Key   string
	Value any
}

// SpanOptions 定义观测跨度的创建参数。
type SpanOptions struct {
	Component string
	Operation string
	Attrs     []Attr
}

// Result 表示观测跨度结束时的结果。
type Result struct {
	// Status 为空时根据 Err 推导。
	Status Status
	Err    error
	Attrs  []Attr
}

// Span 表示一次观测跨度。
type Span interface {
	// End 结束观测并记录结果。
	End(result Result)
}

// Observer 开始观测跨度。
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// Recorder 是锁协议的观测接口。
type Recorder interface {
	Observer

	// RecordAcquire 记录一次 TryLock 的结果和等待时长。
	RecordAcquire(ctx context.Context, outcome string, waited time.Duration)

	// RecordHold 记录一次完整持有（首次获取到最终释放）的时长。
	RecordHold(ctx context.Context, held time.Duration)

	// RecordRenew 记录一次续期尝试的结果。
	RecordRenew(ctx context.Context, result string)

	// RecordLost 记录一次所有权丢失。
	RecordLost(ctx context.Context)
}

// NoopRecorder 是空实现。
type NoopRecorder struct{}

// Start 返回 ctx 和空跨度。
func (NoopRecorder) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

func (NoopRecorder) RecordAcquire(context.Context, string, time.Duration) {}
func (NoopRecorder) RecordHold(context.Context, time.Duration)            {}
func (NoopRecorder) RecordRenew(context.Context, string)                  {}
func (NoopRecorder) RecordLost(context.Context)                           {}

// NoopSpan 是空跨度实现。
type NoopSpan struct{}

// End 空实现。
func (NoopSpan) End(Result) {}

// Start 使用 observer 开始观测，nil observer 时返回空跨度。
// 保证返回非 nil 的 context.Context 和 Span。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}

var _ Recorder = NoopRecorder{}
