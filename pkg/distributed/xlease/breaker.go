package xlease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerOption 定义熔断装饰器的配置选项。
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	name          string
	failures      uint32
	openTimeout   time.Duration
	interval      time.Duration
	maxRequests   uint32
	onStateChange func(name string, from, to string)
}

func defaultBreakerOptions() *breakerOptions {
	return &breakerOptions{
		name:        "xlease",
		failures:    5,
		openTimeout: 10 * time.Second,
		maxRequests: 1,
	}
}

// WithBreakerName 设置熔断器名称（用于状态回调和日志）。
func WithBreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBreakerFailures 设置触发熔断的连续失败次数。默认 5。
func WithBreakerFailures(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		if n > 0 {
			o.failures = n
		}
	}
}

// WithBreakerOpenTimeout 设置熔断打开后进入半开状态前的等待时间。默认 10s。
func WithBreakerOpenTimeout(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithBreakerInterval 设置关闭状态下清空统计的周期。默认 0（不清空）。
func WithBreakerInterval(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// WithBreakerOnStateChange 设置状态变化回调。
func WithBreakerOnStateChange(fn func(name string, from, to string)) BreakerOption {
	return func(o *breakerOptions) {
		o.onStateChange = fn
	}
}

// breakerStore 为 Store 增加熔断保护。
type breakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[bool]
}

// WithBreaker 用熔断器包装 Store。
//
// 只有 ErrStoreUnavailable 计为失败；条件不满足（false）和 context 取消都不会触发熔断。
// 熔断打开期间 AcquireIfAbsent/ExtendIfOwner 直接返回 ErrStoreUnavailable。
func WithBreaker(next Store, opts ...BreakerOption) Store {
	if next == nil {
		return nil
	}
	o := defaultBreakerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	settings := gobreaker.Settings{
		Name:        o.name,
		MaxRequests: o.maxRequests,
		Interval:    o.interval,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.failures
		},
		IsSuccessful: func(err error) bool {
			return !IsUnavailable(err)
		},
	}
	if o.onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			o.onStateChange(name, from.String(), to.String())
		}
	}
	return &breakerStore{next: next, cb: gobreaker.NewCircuitBreaker[bool](settings)}
}

func (b *breakerStore) execute(fn func() (bool, error)) (bool, error) {
	ok, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return ok, err
}

func (b *breakerStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.execute(func() (bool, error) {
		return b.next.AcquireIfAbsent(ctx, key, token, ttl)
	})
}

func (b *breakerStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.execute(func() (bool, error) {
		return b.next.ExtendIfOwner(ctx, key, token, ttl)
	})
}

// ReleaseIfOwner 不经过熔断器。
//
// 设计决策: 释放失败的代价是锁残留到 TTL 过期，熔断打开时也应尽力尝试释放。
func (b *breakerStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	return b.next.ReleaseIfOwner(ctx, key, token)
}

func (b *breakerStore) Health(ctx context.Context) error {
	return b.next.Health(ctx)
}

func (b *breakerStore) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

// BreakerState 返回 Store 的熔断器状态；未包装熔断器时返回空字符串。
func BreakerState(s Store) string {
	if b, ok := s.(*breakerStore); ok {
		return b.cb.State().String()
	}
	return ""
}

var _ Store = (*breakerStore)(nil)
