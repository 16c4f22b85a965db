package xlog

import (
	"log/slog"
	"time"
)

// =============================================================================
// 常用属性 Key 常量
// =============================================================================

const (
	KeyError     = "error"
	KeyComponent = "component"
	KeyLockKey   = "lock_key"
	KeyHolder    = "holder"
	KeyOutcome   = "outcome"
	KeyWaitedMS  = "waited_ms"
	KeyHeldMS    = "held_ms"
	KeyHoldCount = "hold_count"
	KeyStoreMode = "store_mode"
)

// Err 创建错误属性；err 为 nil 时返回空属性（会被 slog 忽略）。
//
//	if err != nil {
//	    logger.Error(ctx, "release failed", xlog.Err(err))
//	}
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// LockKey 创建锁 key 属性
func LockKey(key string) slog.Attr {
	return slog.String(KeyLockKey, key)
}

// Holder 创建持有者属性
func Holder(id string) slog.Attr {
	return slog.String(KeyHolder, id)
}

// Outcome 创建结果属性
func Outcome(outcome string) slog.Attr {
	return slog.String(KeyOutcome, outcome)
}

// Waited 以毫秒记录等待时长
func Waited(d time.Duration) slog.Attr {
	return slog.Int64(KeyWaitedMS, d.Milliseconds())
}

// Held 以毫秒记录持有时长
func Held(d time.Duration) slog.Attr {
	return slog.Int64(KeyHeldMS, d.Milliseconds())
}

// HoldCount 创建重入计数属性
func HoldCount(n int) slog.Attr {
	return slog.Int(KeyHoldCount, n)
}

// StoreMode 创建存储模式属性
func StoreMode(mode string) slog.Attr {
	return slog.String(KeyStoreMode, mode)
}
