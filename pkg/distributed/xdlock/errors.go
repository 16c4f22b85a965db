package xdlock

import "errors"

// 预定义错误。
// 使用 errors.Is 进行错误匹配，例如：
//
//	if errors.Is(err, xdlock.ErrOwnershipLost) {
//	    // 临界区执行期间租约已失效，结果需要人工核对
//	}
var (
	// ErrOwnershipLost 租约所有权丢失。
	// 续期发现记录不再属于本次获取，或释放时记录已过期/被他人持有。
	// 作为 Unlock 的警告返回，同时是锁 context 的取消原因（context.Cause）。
	ErrOwnershipLost = errors.New("xdlock: lock ownership lost")

	// ErrIllegalState 非持有者调用 Unlock。
	// 不会改变锁状态。
	ErrIllegalState = errors.New("xdlock: unlock by a caller that does not hold the lock")

	// ErrEmptyKey 锁 key 为空或仅含空白。
	ErrEmptyKey = errors.New("xdlock: key must not be empty")

	// ErrKeyTooLong 锁 key 超过长度限制（maxKeyLength 字节）。
	ErrKeyTooLong = errors.New("xdlock: key exceeds maximum length of 512 bytes")

	// ErrNilStore 租约存储为空。
	ErrNilStore = errors.New("xdlock: store is nil")

	// ErrNilRegistry 注册表为空。
	ErrNilRegistry = errors.New("xdlock: registry is nil")

	// ErrNilContext context 为空。
	ErrNilContext = errors.New("xdlock: context is nil")

	// ErrNilOperation 临界区操作为空。
	ErrNilOperation = errors.New("xdlock: operation is nil")

	// ErrRegistryClosed 注册表已关闭。
	ErrRegistryClosed = errors.New("xdlock: registry is closed")

	// ErrInvalidOption 注册表配置无效。
	ErrInvalidOption = errors.New("xdlock: invalid option")
)
