package xdlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xlog"
)

// Registry 管理 key 到 Lock 的映射，同一 key 始终返回同一个 Lock 实例。
//
// 映射按 xxhash 分片，每个分片独立加读写锁；条目按需创建，不会回收。
// 注册表不拥有 Store，Close 不会关闭它。
type Registry struct {
	store  xlease.Store
	opts   *options
	logger xlog.Logger

	shards []shard
	mask   uint64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

type shard struct {
	mu    sync.RWMutex
	locks map[string]*Lock
}

// NewRegistry 创建锁注册表。
func NewRegistry(store xlease.Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = xlog.Default()
	}

	shards := make([]shard, o.shardCount)
	for i := range shards {
		shards[i].locks = make(map[string]*Lock)
	}
	return &Registry{
		store:  store,
		opts:   o,
		logger: logger.With(xlog.Component("xdlock")),
		shards: shards,
		// shardCount 已验证为 2 的幂
		mask: uint64(o.shardCount - 1),
		done: make(chan struct{}),
	}, nil
}

func (r *Registry) getShard(key string) *shard {
	return &r.shards[xxhash.Sum64String(key)&r.mask]
}

// Obtain 返回 key 对应的锁对象，不存在时创建。
func (r *Registry) Obtain(key string) (*Lock, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	s := r.getShard(key)
	s.mu.RLock()
	l, ok := s.locks[key]
	s.mu.RUnlock()
	if ok {
		return l, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l, nil
	}
	l = newLock(r, key)
	s.locks[key] = l
	return l, nil
}

// Len 返回注册表中的锁对象数量（瞬时快照）。
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.locks)
		s.mu.RUnlock()
	}
	return n
}

// LeaseTTL 返回注册表使用的租约 TTL。
func (r *Registry) LeaseTTL() time.Duration {
	return r.opts.leaseTTL
}

// Close 关闭注册表。
//
// 之后的 Obtain/TryLock 返回 ErrRegistryClosed，正在等待的 TryLock 以 StatusFailed 返回。
// 仍被持有的锁并行强制释放：停止续期、删除记录、取消锁 context（原因为 ErrRegistryClosed）。
// 释放失败的记录由 TTL 过期回收，错误合并返回。重复调用返回 nil。
func (r *Registry) Close(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		err = r.releaseAll(ctx)
	})
	return err
}

func (r *Registry) releaseAll(ctx context.Context) error {
	var locks []*Lock
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, l := range s.locks {
			locks = append(locks, l)
		}
		s.mu.RUnlock()
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, l := range locks {
		g.Go(func() error {
			if err := l.forceRelease(gctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // 子任务不返回错误，错误收集在 errs 中
	if len(errs) > 0 {
		r.logger.Warn(ctx, "registry closed with unreleased leases", slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 存储调用
//
// 每次调用都有独立超时。单次超时（而非调用方取消）视为存储不可用。
// =============================================================================

func (r *Registry) acquire(ctx context.Context, key, token string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.storeTimeout)
	defer cancel()
	ok, err := r.store.AcquireIfAbsent(cctx, key, token, r.opts.leaseTTL)
	return ok, storeErr(ctx, err)
}

func (r *Registry) extend(ctx context.Context, key, token string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.storeTimeout)
	defer cancel()
	ok, err := r.store.ExtendIfOwner(cctx, key, token, r.opts.leaseTTL)
	return ok, storeErr(ctx, err)
}

// release 不受调用方取消影响，避免锁 context 已取消时记录残留到 TTL 过期。
func (r *Registry) release(ctx context.Context, key, token string) (bool, error) {
	parent := context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(parent, r.opts.storeTimeout)
	defer cancel()
	ok, err := r.store.ReleaseIfOwner(cctx, key, token)
	return ok, storeErr(parent, err)
}

func storeErr(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !xlease.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", xlease.ErrStoreUnavailable, err)
	}
	return err
}
