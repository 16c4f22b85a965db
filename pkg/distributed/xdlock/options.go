package xdlock

import (
	"fmt"
	"strings"
	"time"

	"github.com/omeyang/leasekit/pkg/observability/xlog"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

// maxKeyLength 锁 key 的最大长度（字节）。
const maxKeyLength = 512

// 默认值
const (
	DefaultNamespace       = "LOCK"
	DefaultLeaseTTL        = 30 * time.Second
	DefaultRenewalFraction = 1.0 / 3
	DefaultRetryInterval   = 50 * time.Millisecond
	DefaultStoreTimeout    = time.Second
	DefaultStoreRetries    = 3

	defaultShardCount = 32
)

// validateKey 验证锁 key 是否有效。
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Option 定义注册表的配置选项。
type Option func(*options)

type options struct {
	namespace       string
	leaseTTL        time.Duration
	renewalFraction float64
	renewalPeriod   time.Duration // 非 0 时优先于 renewalFraction
	retryInterval   time.Duration
	storeTimeout    time.Duration
	storeRetries    int
	shardCount      int
	logger          xlog.Logger
	recorder        xmetrics.Recorder
	tokenFunc       func() (string, error)
	onOwnershipLost func(key string, cause error)
}

func defaultOptions() *options {
	return &options{
		namespace:       DefaultNamespace,
		leaseTTL:        DefaultLeaseTTL,
		renewalFraction: DefaultRenewalFraction,
		retryInterval:   DefaultRetryInterval,
		storeTimeout:    DefaultStoreTimeout,
		storeRetries:    DefaultStoreRetries,
		shardCount:      defaultShardCount,
		recorder:        xmetrics.NoopRecorder{},
		tokenFunc:       newOwnerToken,
	}
}

func (o *options) validate() error {
	switch {
	case o.leaseTTL < time.Millisecond:
		return fmt.Errorf("%w: lease ttl must be at least 1ms, got %s", ErrInvalidOption, o.leaseTTL)
	case o.renewalFraction <= 0 || o.renewalFraction >= 1:
		return fmt.Errorf("%w: renewal fraction must be in (0, 1), got %g", ErrInvalidOption, o.renewalFraction)
	case o.renewalPeriod != 0 && (o.renewalPeriod < 0 || o.renewalPeriod >= o.leaseTTL):
		return fmt.Errorf("%w: renewal period must be in (0, ttl), got %s", ErrInvalidOption, o.renewalPeriod)
	case o.retryInterval <= 0 || o.retryInterval >= o.leaseTTL:
		return fmt.Errorf("%w: retry interval must be in (0, ttl), got %s", ErrInvalidOption, o.retryInterval)
	case o.storeTimeout <= 0:
		return fmt.Errorf("%w: store timeout must be positive, got %s", ErrInvalidOption, o.storeTimeout)
	case o.storeRetries < 0:
		return fmt.Errorf("%w: store retries must not be negative, got %d", ErrInvalidOption, o.storeRetries)
	case o.shardCount <= 0 || o.shardCount&(o.shardCount-1) != 0:
		return fmt.Errorf("%w: shard count must be a positive power of 2, got %d", ErrInvalidOption, o.shardCount)
	}
	return nil
}

// renewEvery 返回续期周期。
func (o *options) renewEvery() time.Duration {
	if o.renewalPeriod > 0 {
		return o.renewalPeriod
	}
	return max(time.Duration(float64(o.leaseTTL)*o.renewalFraction), time.Millisecond)
}

// storeKey 返回存储中的记录 key：namespace + ":" + key。
func (o *options) storeKey(key string) string {
	if o.namespace == "" {
		return key
	}
	return o.namespace + ":" + key
}

// WithNamespace 设置记录 key 的命名空间。
// 不同命名空间的同名 key 互不影响。默认 "LOCK"，传入空字符串表示不加前缀。
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithLeaseTTL 设置租约 TTL。
// TTL 决定进程崩溃后锁的最长残留时间。默认 30s。
func WithLeaseTTL(d time.Duration) Option {
	return func(o *options) {
		o.leaseTTL = d
	}
}

// WithRenewalFraction 设置续期周期占 TTL 的比例，必须在 (0, 1) 之间。默认 1/3。
func WithRenewalFraction(f float64) Option {
	return func(o *options) {
		o.renewalFraction = f
	}
}

// WithRenewalPeriod 显式设置续期周期，优先于 WithRenewalFraction。
func WithRenewalPeriod(d time.Duration) Option {
	return func(o *options) {
		o.renewalPeriod = d
	}
}

// WithRetryInterval 设置获取轮询间隔和续期重试间隔。默认 50ms。
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.retryInterval = d
	}
}

// WithStoreTimeout 设置单次存储调用的超时。默认 1s。
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		o.storeTimeout = d
	}
}

// WithStoreRetries 设置可容忍的连续存储不可用次数。默认 3。
//
// 获取时连续失败超过该次数返回 StatusFailed；
// 续期时同一周期内重试耗尽则视为所有权丢失。
func WithStoreRetries(n int) Option {
	return func(o *options) {
		o.storeRetries = n
	}
}

// WithShardCount 设置注册表分片数，必须为 2 的幂。默认 32。
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithLogger 设置日志器。未设置时使用 xlog.Default()。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder 设置指标和追踪记录器。默认不记录。
func WithRecorder(r xmetrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTokenFunc 设置 owner token 生成函数。
// 默认格式为 "<hostname>:<pid>:<uuid>"，每次 TryLock 生成一个新 token。
func WithTokenFunc(fn func() (string, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.tokenFunc = fn
		}
	}
}

// WithOnOwnershipLost 设置所有权丢失回调。
// 回调在续期 goroutine 中同步执行，可以在回调中调用 Unlock。
func WithOnOwnershipLost(fn func(key string, cause error)) Option {
	return func(o *options) {
		o.onOwnershipLost = fn
	}
}
