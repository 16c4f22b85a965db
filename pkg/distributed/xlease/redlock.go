package xlease

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// redlockStore 基于 redsync 的 Redlock 实现。
// 单个客户端等价于普通 Redis 锁；多个独立节点时需过半节点成功。
type redlockStore struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	opts    *options
	closed  atomic.Bool
}

// NewRedlockStore 创建 Redlock 租约存储。
// 每个客户端应指向一个独立的 Redis 节点（非同一集群的分片）。
func NewRedlockStore(clients []redis.UniversalClient, opts ...Option) (Store, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]rsredis.Pool, len(clients))
	for i, client := range clients {
		if client == nil {
			return nil, errors.Join(ErrNilClient, errors.New("client at index "+strconv.Itoa(i)+" is nil"))
		}
		pools[i] = goredis.NewPool(client)
	}
	return &redlockStore{
		clients: clients,
		rs:      redsync.New(pools...),
		opts:    applyOptions(opts),
	}, nil
}

// mutex 为一次原语调用构造 redsync.Mutex。
// token 通过 WithGenValueFunc 注入（获取）或 WithValue 注入（续期/释放），
// 使 owner token 由调用方而不是 redsync 决定。
func (s *redlockStore) mutex(key, token string, ttl time.Duration) *redsync.Mutex {
	opts := []redsync.Option{
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) { return token, nil }),
		redsync.WithValue(token),
	}
	if ttl > 0 {
		opts = append(opts, redsync.WithExpiry(ttl))
	}
	return s.rs.NewMutex(key, opts...)
}

// AcquireIfAbsent 使用 Redlock 获取一次（不重试）。
func (s *redlockStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	if err := s.mutex(key, token, ttl).TryLockContext(ctx); err != nil {
		return false, classifyAcquire(ctx, err)
	}
	return true, nil
}

// ExtendIfOwner 在过半节点上比较 token 并刷新 TTL。
func (s *redlockStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	ok, err := s.mutex(key, token, ttl).ExtendContext(ctx)
	if err != nil {
		return false, classifyRedsync(ctx, err)
	}
	return ok, nil
}

// ReleaseIfOwner 在所有节点上比较 token 并删除。
func (s *redlockStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	if err := validate(key, token, 0, false); err != nil {
		return false, err
	}
	ok, err := s.mutex(key, token, 0).UnlockContext(ctx)
	if err != nil {
		return false, classifyRedsync(ctx, err)
	}
	return ok, nil
}

// Health 对所有节点执行 PING。
func (s *redlockStore) Health(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	for _, client := range s.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

// Close 关闭存储，按配置决定是否关闭客户端。
func (s *redlockStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.opts.closeClients {
		return nil
	}
	var errs []error
	for _, client := range s.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// classifyAcquire 转换获取失败的错误。
//
// 只要有节点报告记录已被占用，就按"被占用"处理，即使其他节点通信失败；
// 否则调用方会把一个正常被持有的 key 当作存储故障，消耗重试预算。
func classifyAcquire(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	if errors.As(err, &taken) || errors.As(err, &nodeTaken) {
		return nil
	}
	return classifyRedsync(ctx, err)
}

// classifyRedsync 将 redsync 错误转换为协议结果。
//
// 记录被占用、未达到法定节点数、记录已过期都属于"条件不满足"，返回 (false, nil)；
// 节点通信失败包装为 ErrStoreUnavailable。
func classifyRedsync(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		// redsync 不会传递 context 错误，需要单独检查
		return ctxErr
	}
	var redisErr *redsync.RedisError
	if errors.As(err, &redisErr) {
		return unavailable(err)
	}
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	switch {
	case errors.As(err, &taken), errors.As(err, &nodeTaken),
		errors.Is(err, redsync.ErrFailed),
		errors.Is(err, redsync.ErrExtendFailed),
		errors.Is(err, redsync.ErrLockAlreadyExpired):
		return nil
	default:
		return unavailable(err)
	}
}

var _ Store = (*redlockStore)(nil)
