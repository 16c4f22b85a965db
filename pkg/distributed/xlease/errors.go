package xlease

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable 存储不可用（连接失败、超时、熔断打开等）。
	// 适配层不做重试，重试策略由调用方决定。
	ErrStoreUnavailable = errors.New("xlease: store unavailable")

	// ErrStoreClosed 存储已关闭。
	ErrStoreClosed = errors.New("xlease: store is closed")

	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xlease: client is nil")

	// ErrEmptyKey 记录 key 为空。
	ErrEmptyKey = errors.New("xlease: key must not be empty")

	// ErrEmptyToken owner token 为空。
	ErrEmptyToken = errors.New("xlease: owner token must not be empty")

	// ErrInvalidTTL TTL 小于 1 毫秒。
	ErrInvalidTTL = errors.New("xlease: ttl must be at least 1ms")

	// errUnexpectedReply 后端返回了无法识别的结果。
	errUnexpectedReply = errors.New("xlease: unexpected store reply")
)

// unavailable 将基础设施错误包装为 ErrStoreUnavailable，保留原始错误链。
// context 错误原样返回。
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsUnavailable 判断 err 是否为存储不可用错误。
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
