// Package xmetrics 提供锁相关的可观测性接口（metrics + tracing）。
//
// # 设计理念
//
// 业务代码只依赖 Recorder 接口；默认实现基于 OpenTelemetry，
// 未配置时使用 NoopRecorder。
//
// # 使用示例
//
//	rec, _ := xmetrics.NewOTelRecorder()
//	ctx, span := xmetrics.Start(ctx, rec, xmetrics.SpanOptions{
//		Component: "xdlock",
//		Operation: "xdlock.RunExclusive",
//		Attrs:     []xmetrics.Attr{xmetrics.String("lock.key", key)},
//	})
//	defer span.End(xmetrics.Result{Err: err})
//
// # 指标命名
//
//   - leasekit.lock.acquire.total{outcome}
//   - leasekit.lock.acquire.wait（秒）
//   - leasekit.lock.hold.duration（秒）
//   - leasekit.lease.renew.total{result}
//   - leasekit.lease.lost.total
package xmetrics
