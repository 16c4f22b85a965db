package xlease

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/extend.lua
	extendLuaSource string

	//go:embed lua/release.lua
	releaseLuaSource string
)

// scripts 持有 Redis 脚本实例，进程内只创建一次。
type scripts struct {
	extend  *redis.Script
	release *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			extend:  redis.NewScript(extendLuaSource),
			release: redis.NewScript(releaseLuaSource),
		}
	})
	return globalScripts
}

// WarmupScripts 将续期/释放脚本预加载到 Redis 脚本缓存。
// 可选调用：未预热时 Script.Run 会在 NOSCRIPT 后自动回退到 EVAL。
func WarmupScripts(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return ErrNilClient
	}
	s := getScripts()
	if err := s.extend.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("load extend script: %w", unavailable(err))
	}
	if err := s.release.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("load release script: %w", unavailable(err))
	}
	return nil
}

// redisStore 基于单个 Redis 部署（单节点、哨兵或集群）的 Store 实现。
// 每个原语只涉及一个 key，因此在集群模式下同样是单分片原子操作。
type redisStore struct {
	client  redis.UniversalClient
	scripts *scripts
	opts    *options
	closed  atomic.Bool
}

// NewRedisStore 创建 Redis 租约存储。
func NewRedisStore(client redis.UniversalClient, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &redisStore{
		client:  client,
		scripts: getScripts(),
		opts:    applyOptions(opts),
	}, nil
}

// AcquireIfAbsent 使用 SET key token NX PX ttl 创建记录。
func (s *redisStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// ExtendIfOwner 通过 Lua 脚本比较 token 后 PEXPIRE。
func (s *redisStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	return s.runScript(ctx, s.scripts.extend, key, token, ttl.Milliseconds())
}

// ReleaseIfOwner 通过 Lua 脚本比较 token 后 DEL。
//
// 设计决策: Store 关闭后仍允许释放，避免已持有的锁只能等待 TTL 过期。
func (s *redisStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	if err := validate(key, token, 0, false); err != nil {
		return false, err
	}
	return s.runScript(ctx, s.scripts.release, key, token)
}

func (s *redisStore) runScript(ctx context.Context, script *redis.Script, key string, args ...any) (bool, error) {
	n, err := script.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: script returned %d", errUnexpectedReply, n)
	}
}

// Health 对 Redis 执行 PING。
func (s *redisStore) Health(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close 关闭存储，按配置决定是否关闭客户端。
func (s *redisStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.opts.closeClients {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*redisStore)(nil)
