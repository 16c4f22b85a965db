package xlease

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

//go:generate mockgen -source=etcd.go -destination=mock_etcd_test.go -package=xlease

// etcdClient 定义 etcd 存储依赖的最小操作集，用于依赖注入和测试。
// *clientv3.Client 实现了此接口。
type etcdClient interface {
	Do(ctx context.Context, op clientv3.Op) (clientv3.OpResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	KeepAliveOnce(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error)
	Close() error
}

var _ etcdClient = (*clientv3.Client)(nil)

// healthKey 健康检查读取的 key（只取计数，不要求存在）。
const healthKey = "xlease/health"

// etcdStore 基于 etcd 事务与 Lease 的 Store 实现。
//
// 每条记录绑定一个独立的 Lease，TTL 由 Lease 管理。
// etcd Lease 以秒为单位，ttl 会向上取整到整秒（最少 1 秒）。
type etcdStore struct {
	client etcdClient
	opts   *options
	closed atomic.Bool
}

// NewEtcdStore 创建 etcd 租约存储。
func NewEtcdStore(client *clientv3.Client, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return newEtcdStore(client, opts...), nil
}

func newEtcdStore(client etcdClient, opts ...Option) *etcdStore {
	return &etcdStore{client: client, opts: applyOptions(opts)}
}

// AcquireIfAbsent 授予 Lease 后以 CreateRevision == 0 为条件写入记录。
// 条件不满足时尽力撤销刚授予的 Lease。
func (s *etcdStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}

	grant, err := s.client.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return false, unavailable(err)
	}

	resp, err := s.client.Do(ctx, clientv3.OpTxn(
		[]clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(key), "=", 0)},
		[]clientv3.Op{clientv3.OpPut(key, token, clientv3.WithLease(grant.ID))},
		nil,
	))
	if err != nil {
		s.revoke(ctx, grant.ID)
		return false, unavailable(err)
	}
	txn := resp.Txn()
	if txn == nil {
		s.revoke(ctx, grant.ID)
		return false, errUnexpectedReply
	}
	if !txn.Succeeded {
		s.revoke(ctx, grant.ID)
		return false, nil
	}
	return true, nil
}

// ExtendIfOwner 以 Value == token 为条件读取记录，再对记录绑定的 Lease 执行 KeepAliveOnce。
//
// 设计决策: KeepAliveOnce 只作用于本记录自己的 Lease（每次获取独立授予），
// 即使在两步之间记录被他人替换，也只会刷新一个已与该 key 无关的 Lease，不会延长他人的锁。
// 刷新后的 TTL 为授予时的 TTL，ttl 参数仅用于校验。
func (s *etcdStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}

	leaseID, ok, err := s.compareAndGet(ctx, key, token)
	if err != nil || !ok {
		return false, err
	}
	if leaseID == clientv3.NoLease {
		return false, nil
	}
	if _, err := s.client.KeepAliveOnce(ctx, leaseID); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return true, nil
}

// ReleaseIfOwner 以 Value == token 为条件删除记录，并尽力撤销其 Lease。
func (s *etcdStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	if err := validate(key, token, 0, false); err != nil {
		return false, err
	}
	resp, err := s.client.Do(ctx, clientv3.OpTxn(
		[]clientv3.Cmp{clientv3.Compare(clientv3.Value(key), "=", token)},
		[]clientv3.Op{clientv3.OpGet(key), clientv3.OpDelete(key)},
		nil,
	))
	if err != nil {
		return false, unavailable(err)
	}
	txn := resp.Txn()
	if txn == nil {
		return false, errUnexpectedReply
	}
	if !txn.Succeeded {
		return false, nil
	}
	if leaseID := leaseOf(txn); leaseID != clientv3.NoLease {
		s.revoke(ctx, leaseID)
	}
	return true, nil
}

func (s *etcdStore) compareAndGet(ctx context.Context, key, token string) (clientv3.LeaseID, bool, error) {
	resp, err := s.client.Do(ctx, clientv3.OpTxn(
		[]clientv3.Cmp{clientv3.Compare(clientv3.Value(key), "=", token)},
		[]clientv3.Op{clientv3.OpGet(key)},
		nil,
	))
	if err != nil {
		return clientv3.NoLease, false, unavailable(err)
	}
	txn := resp.Txn()
	if txn == nil {
		return clientv3.NoLease, false, errUnexpectedReply
	}
	if !txn.Succeeded {
		return clientv3.NoLease, false, nil
	}
	return leaseOf(txn), true, nil
}

// revoke 尽力撤销 Lease，失败时等待其自然过期。
func (s *etcdStore) revoke(ctx context.Context, id clientv3.LeaseID) {
	_, _ = s.client.Revoke(context.WithoutCancel(ctx), id) //nolint:errcheck // Lease 会按 TTL 自然过期
}

// Health 读取一个计数查询验证连接。
func (s *etcdStore) Health(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := s.client.Do(ctx, clientv3.OpGet(healthKey, clientv3.WithCountOnly())); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close 关闭存储，按配置决定是否关闭客户端。
func (s *etcdStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.opts.closeClients {
		return s.client.Close()
	}
	return nil
}

// leaseOf 从事务响应中取出第一条读取结果绑定的 Lease。
func leaseOf(txn *clientv3.TxnResponse) clientv3.LeaseID {
	for _, r := range txn.Responses {
		if rr := r.GetResponseRange(); rr != nil && len(rr.Kvs) > 0 {
			return clientv3.LeaseID(rr.Kvs[0].Lease)
		}
	}
	return clientv3.NoLease
}

// ttlSeconds 将 TTL 向上取整为秒，最少 1 秒。
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	return max(secs, 1)
}

var _ Store = (*etcdStore)(nil)
