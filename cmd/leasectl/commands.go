package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/leasekit/internal/bootstrap"
	"github.com/omeyang/leasekit/pkg/config/xconf"
	"github.com/omeyang/leasekit/pkg/distributed/xdlock"
)

// 退出码，busy 使用 sysexits 的 EX_TEMPFAIL，interrupted 沿用 shell 的 128+SIGINT。
const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitBusy        = 75
	exitInterrupted = 130
)

// healthTimeout health 命令的默认超时。
const healthTimeout = 5 * time.Second

// exitError 表示需要非零退出码但已完成输出的场景。
// 命令内部已完成所有输出，main 只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// usageError 表示参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// cliUsageMarkers 是 urfave/cli 参数解析错误的特征文本。
var cliUsageMarkers = []string{
	"flag provided but not defined",
	"Required flag",
	"Required flags",
	"No help topic",
	"invalid value",
}

// isCLIUsageError 判断错误是否由 CLI 框架的参数解析产生。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, m := range cliUsageMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createExecCommand(),
		createProbeCommand(),
		createHealthCommand(),
		createVersionCommand(),
	}
}

func keyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "key",
			Aliases:  []string{"k"},
			Usage:    "资源 key（实际锁 key 会加上 lock.key_prefix）",
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "最长等待时间，未指定时使用 lock.acquire_wait",
		},
	}
}

// createExecCommand 创建 exec 子命令。
func createExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Aliases:   []string{"x"},
		Usage:     "获取锁后执行命令，命令结束后释放",
		ArgsUsage: "-- <command> [args...]",
		Flags:     keyFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return &usageError{msg: "exec 需要要执行的命令，例如: leasectl exec --key K -- ./job.sh"}
			}
			return withApp(ctx, cmd, func(app *bootstrap.App) error {
				return cmdExec(ctx, cmd, app, args)
			})
		},
	}
}

// createProbeCommand 创建 probe 子命令。
func createProbeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "尝试获取锁并立即释放，输出 free 或 busy",
		Flags: keyFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(app *bootstrap.App) error {
				return cmdProbe(ctx, cmd, app)
			})
		},
	}
}

// createHealthCommand 创建 health 子命令。
func createHealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "检查租约存储连通性",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "检查超时时间",
				Value:   healthTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(app *bootstrap.App) error {
				return cmdHealth(ctx, cmd, app)
			})
		},
	}
}

// createVersionCommand 创建 version 子命令。
func createVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "显示版本信息",
		Action: func(_ context.Context, cmd *cli.Command) error {
			w := stdout(cmd)
			fmt.Fprintf(w, "leasectl %s\n", Version)
			fmt.Fprintf(w, "  commit: %s\n", GitCommit)
			fmt.Fprintf(w, "  built:  %s\n", BuildTime)
			return nil
		},
	}
}

// =============================================================================
// 命令实现
// =============================================================================

// cmdExec 在锁保护下执行外部命令。
// 锁 context 被取消（所有权丢失或收到信号）时终止子进程。
func cmdExec(ctx context.Context, cmd *cli.Command, app *bootstrap.App, args []string) error {
	key, wait := lockParams(cmd, app.Config)

	out := xdlock.RunExclusive(ctx, app.Registry, key, wait, func(lctx context.Context) (int, error) {
		c := exec.CommandContext(lctx, args[0], args[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = stdout(cmd)
		c.Stderr = stderr(cmd)
		err := c.Run()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			return 0, nil
		case errors.As(err, &exitErr) && lctx.Err() == nil:
			return exitErr.ExitCode(), nil
		case lctx.Err() != nil:
			return 0, fmt.Errorf("command terminated: %w", context.Cause(lctx))
		default:
			return 0, err
		}
	})

	fmt.Fprintln(stderr(cmd), out.String())
	if out.Warning != nil {
		fmt.Fprintf(stderr(cmd), "WARNING: %v\n", out.Warning)
	}
	code := exitCode(out.Kind)
	if out.Kind == xdlock.OutcomeSuccess {
		code = out.Value
	}
	if code == exitOK {
		return nil
	}
	return &exitError{code: code}
}

// cmdProbe 以 wait 为上限尝试获取，获取成功立即释放。
func cmdProbe(ctx context.Context, cmd *cli.Command, app *bootstrap.App) error {
	key, wait := lockParams(cmd, app.Config)

	out := xdlock.RunExclusive(ctx, app.Registry, key, wait, func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	switch out.Kind {
	case xdlock.OutcomeSuccess:
		fmt.Fprintf(stdout(cmd), "%s: free\n", key)
	case xdlock.OutcomeBusy:
		fmt.Fprintf(stdout(cmd), "%s: busy\n", key)
	default:
		fmt.Fprintln(stderr(cmd), out.String())
	}
	if code := exitCode(out.Kind); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

// cmdHealth 对存储执行一次健康检查。
func cmdHealth(ctx context.Context, cmd *cli.Command, app *bootstrap.App) error {
	hctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	start := time.Now()
	if err := app.Store.Health(hctx); err != nil {
		fmt.Fprintf(stderr(cmd), "store %s: unhealthy: %v\n", app.Config.Store.Mode, err)
		return &exitError{code: exitFailed}
	}
	fmt.Fprintf(stdout(cmd), "store %s: ok (%dms)\n", app.Config.Store.Mode, time.Since(start).Milliseconds())
	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// withApp 加载配置并组装运行时组件，fn 返回后关闭。
func withApp(ctx context.Context, cmd *cli.Command, fn func(app *bootstrap.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := bootstrap.New(cfg, bootstrap.WithLogOutput(stderr(cmd)))
	if err != nil {
		return err
	}
	defer func() {
		// 释放不受信号取消影响
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(stderr(cmd), "WARNING: shutdown: %v\n", cerr)
		}
	}()
	return fn(app)
}

// loadConfig 加载配置文件和环境变量，命令行参数优先。
func loadConfig(cmd *cli.Command) (xconf.Config, error) {
	cfg, err := xconf.Load(cmd.String("config"))
	if err != nil {
		return xconf.Config{}, err
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return xconf.Config{}, &usageError{msg: err.Error()}
	}
	return cfg, nil
}

// lockParams 返回加上前缀的锁 key 和等待时长。
func lockParams(cmd *cli.Command, cfg xconf.Config) (string, time.Duration) {
	wait := cfg.Lock.AcquireWait
	if cmd.IsSet("wait") {
		wait = cmd.Duration("wait")
	}
	return cfg.Lock.KeyPrefix + cmd.String("key"), wait
}

func exitCode(kind xdlock.OutcomeKind) int {
	switch kind {
	case xdlock.OutcomeSuccess:
		return exitOK
	case xdlock.OutcomeBusy:
		return exitBusy
	case xdlock.OutcomeInterrupted:
		return exitInterrupted
	default:
		return exitFailed
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
