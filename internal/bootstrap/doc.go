// Package bootstrap 根据 xconf.Config 组装 leasekit 的运行时组件。
//
// 组装顺序：日志 → 存储客户端 → 存储（可选熔断）→ 指标 → 锁注册表。
// 返回的 Close 按相反顺序释放：先关闭注册表释放仍被持有的锁，
// 再关闭存储和客户端，最后刷新日志文件。
package bootstrap
