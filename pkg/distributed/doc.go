// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xlease: 租约存储，提供 AcquireIfAbsent/ExtendIfOwner/ReleaseIfOwner 三个原子原语，
//     支持 Redis（单节点/Cluster）、Redlock、etcd 和进程内后端
//   - xdlock: 基于租约存储的可重入分布式锁、锁注册表和临界区执行器
//
// 设计原则：
//   - 存储只负责原子原语，锁语义（重入、续期、等待）在 xdlock 中统一实现
//   - 租约自动续期，持有者崩溃后由 TTL 过期回收
//   - 条件不满足不是错误，只有基础设施故障才返回 error
package distributed
