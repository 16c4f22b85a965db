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

// setupRedlockNodes 启动 n 个独立的 miniredis 节点。
func setupRedlockNodes(t *testing.T, n int) ([]*miniredis.Miniredis, []redis.UniversalClient) {
	t.Helper()
	nodes := make([]*miniredis.Miniredis, n)
	clients := make([]redis.UniversalClient, n)
	for i := range n {
		nodes[i] = miniredis.RunT(t)
		c := redis.NewClient(&redis.Options{Addr: nodes[i].Addr(), MaxRetries: -1, DialerRetries: 1})
		t.Cleanup(func() { _ = c.Close() })
		clients[i] = c
	}
	return nodes, clients
}

func TestNewRedlockStore_NilClients(t *testing.T) {
	_, err := xlease.NewRedlockStore(nil)
	assert.ErrorIs(t, err, xlease.ErrNilClient)

	_, err = xlease.NewRedlockStore([]redis.UniversalClient{nil})
	assert.ErrorIs(t, err, xlease.ErrNilClient)
}

func TestRedlockStore_Lifecycle(t *testing.T) {
	nodes, clients := setupRedlockNodes(t, 3)
	store, err := xlease.NewRedlockStore(clients)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.AcquireIfAbsent(ctx, "LOCK:item-B", "owner-1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// token 由调用方决定，写入每个节点
	for _, node := range nodes {
		got, err := node.Get("LOCK:item-B")
		require.NoError(t, err)
		assert.Equal(t, "owner-1", got)
	}

	ok, err = store.AcquireIfAbsent(ctx, "LOCK:item-B", "owner-2", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ExtendIfOwner(ctx, "LOCK:item-B", "owner-2", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ExtendIfOwner(ctx, "LOCK:item-B", "owner-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReleaseIfOwner(ctx, "LOCK:item-B", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReleaseIfOwner(ctx, "LOCK:item-B", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)
	for _, node := range nodes {
		assert.False(t, node.Exists("LOCK:item-B"))
	}
}

func TestRedlockStore_QuorumSurvivesOneNode(t *testing.T) {
	nodes, clients := setupRedlockNodes(t, 3)
	store, err := xlease.NewRedlockStore(clients)
	require.NoError(t, err)

	nodes[2].Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := store.AcquireIfAbsent(ctx, "k", "owner-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedlockStore_TakenWithUnreachableNode(t *testing.T) {
	nodes, clients := setupRedlockNodes(t, 3)
	store, err := xlease.NewRedlockStore(clients)
	require.NoError(t, err)

	require.NoError(t, nodes[0].Set("k", "owner-other"))
	nodes[1].Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 一个节点被占用、一个节点不可达：结果是被占用，而不是存储不可用
	ok, err := store.AcquireIfAbsent(ctx, "k", "owner-1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, nodes[2].Exists("k"), "partial acquisition rolled back")

	got, err := nodes[0].Get("k")
	require.NoError(t, err)
	assert.Equal(t, "owner-other", got)
}

func TestRedlockStore_NoQuorumReachable(t *testing.T) {
	nodes, clients := setupRedlockNodes(t, 3)
	store, err := xlease.NewRedlockStore(clients)
	require.NoError(t, err)

	nodes[1].Close()
	nodes[2].Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = store.AcquireIfAbsent(ctx, "k", "owner-1", 10*time.Second)
	assert.ErrorIs(t, err, xlease.ErrStoreUnavailable)
	assert.False(t, nodes[0].Exists("k"))
}

func TestRedlockStore_Health(t *testing.T) {
	nodes, clients := setupRedlockNodes(t, 2)
	store, err := xlease.NewRedlockStore(clients)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, store.Health(ctx))

	nodes[1].Close()
	assert.ErrorIs(t, store.Health(ctx), xlease.ErrStoreUnavailable)
}
