// Package xconf 加载 leasekit 的配置，基于 koanf 实现。
//
// # 加载顺序
//
// 后加载的来源覆盖先加载的：
//  1. 默认值（Default，通过 structs provider 载入）
//  2. 配置文件（Load）或字节数据（LoadBytes）
//  3. 环境变量（默认前缀 LEASEKIT_，"__" 表示层级）
//
// 例如：
//
//	LEASEKIT_STORE__MODE=redlock
//	LEASEKIT_STORE__ADDRS=10.0.0.1:6379,10.0.0.2:6379,10.0.0.3:6379
//	LEASEKIT_LOCK__LEASE_TTL=10s
//
// # 支持的格式
//
//   - YAML（默认，推荐）：.yaml, .yml
//   - JSON：.json
//
// # 校验
//
// 加载完成后自动调用 Config.Validate，错误包装 ErrInvalidConfig 并指明字段。
// 时长字段支持 "30s"、"100ms" 等写法。
package xconf
