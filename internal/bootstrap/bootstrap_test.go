package bootstrap

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/leasekit/pkg/config/xconf"
	"github.com/omeyang/leasekit/pkg/distributed/xdlock"
	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

func memoryConfig() xconf.Config {
	cfg := xconf.Default()
	cfg.Store.Mode = xconf.ModeMemory
	cfg.Store.Addrs = nil
	return cfg
}

func newTestApp(t *testing.T, cfg xconf.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogOutput(&bytes.Buffer{}), WithRecorder(xmetrics.NoopRecorder{})}, opts...)
	app, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func runOnce(t *testing.T, app *App, key string) xdlock.Outcome[string] {
	t.Helper()
	return xdlock.RunExclusive(context.Background(), app.Registry, key, time.Second,
		func(ctx context.Context) (string, error) { return "ok", nil })
}

func TestNew_Memory(t *testing.T) {
	app := newTestApp(t, memoryConfig())

	out := runOnce(t, app, "item-A")
	assert.True(t, out.OK(), out.String())
	assert.Equal(t, 30*time.Second, app.Registry.LeaseTTL())
	assert.NoError(t, app.Store.Health(context.Background()))
}

func TestNew_SingleRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := xconf.Default()
	cfg.Store.Addrs = []string{mr.Addr()}
	cfg.Lock.Namespace = "orders"
	app := newTestApp(t, cfg)

	require.NoError(t, app.Store.Health(context.Background()))

	reg := app.Registry
	lock, err := reg.Obtain("42")
	require.NoError(t, err)
	lctx, status, err := lock.TryLock(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, xdlock.StatusAcquired, status)
	assert.True(t, mr.Exists("orders:42"))
	require.NoError(t, lock.Unlock(lctx))
	assert.False(t, mr.Exists("orders:42"))
}

func TestNew_Redlock(t *testing.T) {
	cfg := xconf.Default()
	cfg.Store.Mode = xconf.ModeRedlock
	cfg.Store.Addrs = nil
	for range 3 {
		cfg.Store.Addrs = append(cfg.Store.Addrs, miniredis.RunT(t).Addr())
	}
	app := newTestApp(t, cfg)

	out := runOnce(t, app, "item-A")
	assert.True(t, out.OK(), out.String())
}

func TestNew_Breaker(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Breaker.Enabled = true
	app := newTestApp(t, cfg)

	assert.Equal(t, "closed", xlease.BreakerState(app.Store))
	assert.True(t, runOnce(t, app, "k").OK())
}

func TestNew_WithStore(t *testing.T) {
	store := xlease.NewMemoryStore()
	app := newTestApp(t, memoryConfig(), WithStore(store))

	require.True(t, runOnce(t, app, "k").OK())
	require.NoError(t, app.Close(context.Background()))
	assert.ErrorIs(t, store.Health(context.Background()), xlease.ErrStoreClosed)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Lock.LeaseTTL = 0
	app, err := New(cfg)
	assert.ErrorIs(t, err, xconf.ErrInvalidConfig)
	assert.Nil(t, app)
}

func TestNew_LogFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Log.File = filepath.Join(t.TempDir(), "leasekit.log")
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	app, err := New(cfg, WithRecorder(xmetrics.NoopRecorder{}))
	require.NoError(t, err)
	require.True(t, runOnce(t, app, "item-A").OK())
	require.NoError(t, app.Close(context.Background()))

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lock_key":"item-A"`)
	assert.Contains(t, string(data), `"service":"leasekit"`)
}

func TestClose_Idempotent(t *testing.T) {
	app, err := New(memoryConfig(), WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.NoError(t, app.Close(context.Background()))
	assert.NoError(t, app.Close(context.Background()))
}

func TestNewStore(t *testing.T) {
	t.Run("cluster", func(t *testing.T) {
		store, err := NewStore(xconf.StoreConfig{
			Mode:  xconf.ModeCluster,
			Addrs: []string{"127.0.0.1:7000", "127.0.0.1:7001"},
		})
		require.NoError(t, err)
		assert.NoError(t, store.Close(context.Background()))
	})

	t.Run("etcd", func(t *testing.T) {
		store, err := NewStore(xconf.StoreConfig{
			Mode:        xconf.ModeEtcd,
			Addrs:       []string{"127.0.0.1:2379"},
			DialTimeout: time.Second,
		})
		require.NoError(t, err)
		require.NotNil(t, store)
		_ = store.Close(context.Background())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore(xconf.StoreConfig{Mode: "zookeeper"})
		assert.ErrorIs(t, err, ErrUnknownMode)
	})
}

func TestRedisOptions_NoInternalRetries(t *testing.T) {
	cfg := xconf.Default().Store
	opts := redisOptions(cfg, "127.0.0.1:6379")
	assert.Equal(t, -1, opts.MaxRetries)
	assert.Equal(t, 1, opts.DialerRetries)

	cluster := clusterOptions(cfg)
	assert.Equal(t, -1, cluster.MaxRetries)
	assert.Equal(t, 1, cluster.DialerRetries)
}

func TestNewStore_DownServerIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := xconf.Default().Store
	cfg.Addrs = []string{mr.Addr()}
	store, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	mr.Close()

	// 单次拨号失败即返回，不会耗尽调用方超时
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	_, err = store.AcquireIfAbsent(ctx, "LOCK:k", "owner-1", time.Second)
	assert.ErrorIs(t, err, xlease.ErrStoreUnavailable)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(start), time.Second)
}
