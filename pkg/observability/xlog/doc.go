// Package xlog 提供 leasekit 使用的结构化日志。
//
// 基于 log/slog，所有方法强制传入 context.Context，
// 便于从 context 中提取 OpenTelemetry trace_id/span_id 注入日志。
//
// # 快速开始
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
//	logger.Info(ctx, "lock acquired", xlog.LockKey("item-A"), xlog.Waited(12*time.Millisecond))
//
// # 文件轮转
//
// SetRotation 将输出切换为 lumberjack 轮转文件，cleanup 负责关闭文件。
//
// # 全局 Logger
//
// Default/SetDefault 适用于 CLI 等简单场景；库代码通过选项显式注入 Logger，
// 未注入时回退到 Default()。测试中可使用 Discard() 丢弃全部输出。
package xlog
