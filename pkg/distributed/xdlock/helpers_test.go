package xdlock_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omeyang/leasekit/pkg/distributed/xdlock"
	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xlog"
)

var errInjected = errors.Join(xlease.ErrStoreUnavailable, errors.New("injected: connection refused"))

// faultStore 统计存储调用次数，并按调用序号注入故障。
type faultStore struct {
	xlease.Store

	acquires atomic.Int32
	extends  atomic.Int32
	releases atomic.Int32

	// acquireFault 返回非 nil 时替代真实结果；n 从 1 开始。
	acquireFault func(n int32) error
	// acquireThenFail 为 true 的调用先真实写入，再返回不可用（模拟响应丢失）。
	acquireThenFail func(n int32) bool
	extendFault     func(n int32) error
}

func (f *faultStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n := f.acquires.Add(1)
	if f.acquireFault != nil {
		if err := f.acquireFault(n); err != nil {
			return false, err
		}
	}
	ok, err := f.Store.AcquireIfAbsent(ctx, key, token, ttl)
	if f.acquireThenFail != nil && f.acquireThenFail(n) {
		return false, errInjected
	}
	return ok, err
}

func (f *faultStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n := f.extends.Add(1)
	if f.extendFault != nil {
		if err := f.extendFault(n); err != nil {
			return false, err
		}
	}
	return f.Store.ExtendIfOwner(ctx, key, token, ttl)
}

func (f *faultStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	f.releases.Add(1)
	return f.Store.ReleaseIfOwner(ctx, key, token)
}

func always(err error) func(int32) error {
	return func(int32) error { return err }
}

// newRegistry 创建测试注册表，测试结束时关闭。
func newRegistry(t *testing.T, store xlease.Store, opts ...xdlock.Option) *xdlock.Registry {
	t.Helper()
	opts = append([]xdlock.Option{xdlock.WithLogger(xlog.Discard())}, opts...)
	r, err := xdlock.NewRegistry(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

// fixedToken 返回固定 token 生成函数，便于断言存储中的值。
func fixedToken(token string) xdlock.Option {
	return xdlock.WithTokenFunc(func() (string, error) { return token, nil })
}

func mustObtain(t *testing.T, r *xdlock.Registry, key string) *xdlock.Lock {
	t.Helper()
	l, err := r.Obtain(key)
	require.NoError(t, err)
	return l
}

func mustLock(t *testing.T, l *xdlock.Lock, ctx context.Context, maxWait time.Duration) context.Context {
	t.Helper()
	lctx, status, err := l.TryLock(ctx, maxWait)
	require.NoError(t, err)
	require.Equal(t, xdlock.StatusAcquired, status)
	return lctx
}
