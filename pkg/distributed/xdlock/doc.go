// Package xdlock 提供基于租约的跨进程互斥锁。
//
// # 核心概念
//
//   - Registry: 锁注册表，每个 key 对应唯一的 Lock 对象
//   - Lock: 单个锁对象，提供 TryLock/Unlock，支持同一持有者重入
//   - RunExclusive: 在锁保护下执行操作，返回 Outcome 而非错误
//
// # 租约协议
//
// 锁状态保存在 xlease.Store 中的一条带 TTL 的记录里，值为 owner token
// （"<hostname>:<pid>:<uuid>"，每次获取重新生成）：
//
//	| 操作 | 存储原语 |
//	|------|----------|
//	| 获取 | AcquireIfAbsent（不存在才写入） |
//	| 续期 | ExtendIfOwner（token 匹配才刷新 TTL） |
//	| 释放 | ReleaseIfOwner（token 匹配才删除） |
//
// 持有期间后台按 TTL 的 1/3 续期；进程崩溃后记录在 TTL 内过期，其他进程即可获取。
// 续期发现记录已不属于自己时，锁 context 以 ErrOwnershipLost 为原因取消，
// Unlock 以 ErrOwnershipLost 作为警告返回。
//
// # 持有者与重入
//
// Go 没有线程标识，持有者标识随 context 传递：TryLock 成功时返回的 context
// 携带持有者标识，用它再次 TryLock 同一把锁即为重入，只增加计数，不访问存储。
// 重入多少次就需要 Unlock 多少次。
//
//	ctx, status, err := lock.TryLock(ctx, 100*time.Millisecond)
//	if status != xdlock.StatusAcquired {
//	    return err
//	}
//	defer lock.Unlock(ctx)
//
// # 设计决策
//
// 这是租约锁而非共识协议：不提供 fencing token，GC 停顿或网络分区超过 TTL 时
// 两个进程可能同时认为自己持有锁。临界区应检查锁 context 是否已取消。
//
// 详细使用示例请参考 example_test.go 中的 Example 函数。
package xdlock
