// Package xlease 提供分布式锁租约的存储适配层。
//
// xlease 只暴露锁协议需要的三个原子原语，重试、退避和续期策略都由上层 xdlock 负责：
//
//   - AcquireIfAbsent: 记录不存在（或已过期）时以 owner token 创建并设置 TTL
//   - ExtendIfOwner: 记录仍属于 owner token 时刷新 TTL
//   - ReleaseIfOwner: 记录仍属于 owner token 时删除
//
// 每个原语都是后端的一次原子操作（Lua 脚本、redsync 脚本或 etcd 事务），
// 不存在"先读后写"被拆成两次调用的情况。
//
// # 后端
//
//	| 构造函数 | 后端 | 说明 |
//	|----------|------|------|
//	| NewRedisStore | Redis 单节点/哨兵/集群 | Lua 脚本，毫秒级 TTL |
//	| NewRedlockStore | 多个独立 Redis 节点 | redsync Redlock，过半成功 |
//	| NewEtcdStore | etcd | 事务 + Lease，TTL 向上取整到秒 |
//	| NewMemoryStore | 进程内 | 单进程部署与测试 |
//
// WithBreaker 可以为任意 Store 增加熔断保护。
//
// # 错误
//
// 连接失败、超时等基础设施错误统一包装为 [ErrStoreUnavailable]，
// context 取消/超时原样返回，便于上层区分"调用方中断"与"存储不可用"。
package xlease
