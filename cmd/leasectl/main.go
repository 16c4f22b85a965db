// leasectl 在分布式租约锁的保护下执行命令。
//
// 用法:
//
//	leasectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config      配置文件路径（YAML/JSON），为空时使用默认值和 LEASEKIT_* 环境变量
//	    --log-level   覆盖配置中的日志级别
//	    --log-format  覆盖配置中的日志格式（text/json）
//
// 命令:
//
//	exec --key K [--wait D] -- <cmd> [args...]   获取锁后执行命令，结束后释放
//	probe --key K [--wait D]                     尝试获取并立即释放，输出 free/busy
//	health                                       检查存储连通性
//	version                                      显示版本信息
//
// 退出码:
//
//	0:   成功（exec: 命令退出码为 0）
//	1:   失败（存储不可用、命令无法启动等）
//	2:   参数错误
//	75:  资源繁忙（在等待时间内未获取锁）
//	130: 等待期间收到 SIGINT/SIGTERM
//
// exec 成功获取锁时，退出码为被执行命令的退出码。
//
// 示例:
//
//	leasectl -c /etc/leasekit.yaml exec --key nightly-report -- ./report.sh
//	leasectl exec --key item-A --wait 5s -- sh -c 'echo updating'
//	LEASEKIT_STORE__MODE=etcd LEASEKIT_STORE__ADDRS=etcd:2379 leasectl health
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "leasectl",
		Usage:   "在分布式租约锁的保护下执行命令",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml/.yml/.json）",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别 (debug/info/warn/error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 (text/json)",
			},
		},
		Commands: createCommands(),
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，
		// 由 run() 统一处理退出码映射，确保与文档退出码契约一致。
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

// run 执行命令并返回退出码。SIGINT/SIGTERM 取消 context，中断锁等待。
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runApp(ctx, createApp(), args)
}

func runApp(ctx context.Context, app *cli.Command, args []string) int {
	err := app.Run(ctx, args)
	if err == nil {
		return exitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	errOut := app.ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(errOut, "参数错误: %v\n", usageErr)
		return exitUsage
	}
	if isCLIUsageError(err) {
		return exitUsage
	}
	fmt.Fprintf(errOut, "错误: %v\n", err)
	return exitFailed
}
