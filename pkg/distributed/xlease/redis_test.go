package xlease_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/leasekit/pkg/distributed/xlease"
)

// setupMiniredis 启动 miniredis 并返回客户端。
// 与生产配置一致，关闭 go-redis 内部的命令重试和拨号重试。
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialerRetries: 1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := xlease.NewRedisStore(nil)
	assert.ErrorIs(t, err, xlease.ErrNilClient)
}

func TestRedisStore_AcquireIfAbsent(t *testing.T) {
	mr, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.AcquireIfAbsent(ctx, "LOCK:item-A", "owner-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mr.Get("LOCK:item-A")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got)
	assert.Equal(t, 30*time.Second, mr.TTL("LOCK:item-A"))

	// 已存在时不能再创建
	ok, err = store.AcquireIfAbsent(ctx, "LOCK:item-A", "owner-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// 过期后可以重新创建
	mr.FastForward(31 * time.Second)
	ok, err = store.AcquireIfAbsent(ctx, "LOCK:item-A", "owner-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ExtendIfOwner(t *testing.T) {
	mr, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.AcquireIfAbsent(ctx, "k", "owner-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ExtendIfOwner(ctx, "k", "owner-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("k"))

	// 其他 owner 续期失败且不改变 TTL
	ok, err = store.ExtendIfOwner(ctx, "k", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("k"))

	// 记录过期后续期失败
	mr.FastForward(11 * time.Second)
	ok, err = store.ExtendIfOwner(ctx, "k", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ReleaseIfOwner(t *testing.T) {
	mr, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.AcquireIfAbsent(ctx, "k", "owner-1", time.Minute)
	require.NoError(t, err)

	// 不能删除他人的记录
	ok, err := store.ReleaseIfOwner(ctx, "k", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("k"))

	ok, err = store.ReleaseIfOwner(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("k"))

	// 重复释放返回 false
	ok, err = store.ReleaseIfOwner(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Validation(t *testing.T) {
	_, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		token string
		ttl   time.Duration
		want  error
	}{
		{"empty key", "", "t", time.Second, xlease.ErrEmptyKey},
		{"blank key", "   ", "t", time.Second, xlease.ErrEmptyKey},
		{"empty token", "k", "", time.Second, xlease.ErrEmptyToken},
		{"zero ttl", "k", "t", 0, xlease.ErrInvalidTTL},
		{"sub-millisecond ttl", "k", "t", time.Microsecond, xlease.ErrInvalidTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AcquireIfAbsent(ctx, tt.key, tt.token, tt.ttl)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = store.AcquireIfAbsent(ctx, "k", "owner-1", time.Second)
	assert.ErrorIs(t, err, xlease.ErrStoreUnavailable)
	assert.True(t, xlease.IsUnavailable(err))
	// 失败来自连接而不是调用方超时
	assert.NoError(t, ctx.Err())

	_, err = store.ExtendIfOwner(ctx, "k", "owner-1", time.Second)
	assert.ErrorIs(t, err, xlease.ErrStoreUnavailable)

	assert.ErrorIs(t, store.Health(ctx), xlease.ErrStoreUnavailable)
}

func TestRedisStore_CanceledContext(t *testing.T) {
	_, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.AcquireIfAbsent(ctx, "k", "owner-1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, xlease.IsUnavailable(err))
}

func TestRedisStore_Close(t *testing.T) {
	_, client := setupMiniredis(t)
	store, err := xlease.NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.AcquireIfAbsent(ctx, "k", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))

	_, err = store.AcquireIfAbsent(ctx, "k2", "owner-1", time.Minute)
	assert.ErrorIs(t, err, xlease.ErrStoreClosed)
	assert.ErrorIs(t, store.Health(ctx), xlease.ErrStoreClosed)

	// 关闭后仍允许释放已持有的记录
	ok, err = store.ReleaseIfOwner(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 默认不关闭外部客户端
	assert.NoError(t, client.Ping(ctx).Err())
}

func TestWarmupScripts(t *testing.T) {
	_, client := setupMiniredis(t)
	assert.NoError(t, xlease.WarmupScripts(context.Background(), client))
	assert.ErrorIs(t, xlease.WarmupScripts(context.Background(), nil), xlease.ErrNilClient)
}
