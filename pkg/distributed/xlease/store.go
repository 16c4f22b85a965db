package xlease

import (
	"context"
	"strings"
	"time"
)

// Store 定义锁协议依赖的原子租约原语。
//
// 所有方法并发安全。返回 (false, nil) 表示条件不满足（记录已存在、不属于该 token 或已不存在），
// 这是正常的协议结果而非错误。
type Store interface {
	// AcquireIfAbsent 原子地创建租约记录。
	// 仅当 key 不存在（或已过期）时写入 token 并设置 ttl，返回是否由本次调用创建。
	AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ExtendIfOwner 原子地刷新 TTL。
	// 记录不存在或属于其他 token 时返回 false，表示所有权已丢失。
	ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseIfOwner 原子地删除记录。
	// 记录不存在或属于其他 token 时返回 false，不会删除他人的记录。
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)

	// Health 检查底层连接。
	Health(ctx context.Context) error

	// Close 关闭存储。
	// 外部传入的客户端不会被关闭，其生命周期由调用者管理。
	Close(ctx context.Context) error
}

// validate 校验原语的公共参数。
func validate(key, token string, ttl time.Duration, needTTL bool) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if token == "" {
		return ErrEmptyToken
	}
	if needTTL && ttl < time.Millisecond {
		return ErrInvalidTTL
	}
	return nil
}
