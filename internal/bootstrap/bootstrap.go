package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/leasekit/pkg/config/xconf"
	"github.com/omeyang/leasekit/pkg/distributed/xdlock"
	"github.com/omeyang/leasekit/pkg/distributed/xlease"
	"github.com/omeyang/leasekit/pkg/observability/xlog"
	"github.com/omeyang/leasekit/pkg/observability/xmetrics"
)

// ErrUnknownMode 表示不支持的存储模式。
var ErrUnknownMode = errors.New("bootstrap: unknown store mode")

// App 是组装完成的运行时组件。
type App struct {
	Config   xconf.Config
	Logger   xlog.LoggerWithLevel
	Store    xlease.Store
	Registry *xdlock.Registry
	Recorder xmetrics.Recorder

	closeLog func() error
}

// Option 定义组装选项。
type Option func(*options)

type options struct {
	logOutput io.Writer
	recorder  xmetrics.Recorder
	store     xlease.Store
}

// WithLogOutput 设置日志输出。配置了日志文件时忽略。
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithRecorder 使用指定的指标记录器，默认基于全局 OpenTelemetry Provider 创建。
func WithRecorder(r xmetrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithStore 使用已创建的存储，忽略 store 配置中的连接参数。
// 存储的所有权转移给 App，Close 时一并关闭。
func WithStore(s xlease.Store) Option {
	return func(o *options) { o.store = s }
}

// New 按配置创建 App。任一步骤失败时释放已创建的资源。
func New(cfg xconf.Config, opts ...Option) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background()) //nolint:errcheck // 已有更早的错误
			app = nil
		}
	}()

	if app.Logger, app.closeLog, err = newLogger(cfg.Log, o.logOutput); err != nil {
		return app, err
	}

	app.Store = o.store
	if app.Store == nil {
		if app.Store, err = NewStore(cfg.Store); err != nil {
			return app, err
		}
	}
	if cfg.Store.Breaker.Enabled {
		app.Store = xlease.WithBreaker(app.Store,
			xlease.WithBreakerName(string(cfg.Store.Mode)),
			xlease.WithBreakerFailures(cfg.Store.Breaker.Failures),
			xlease.WithBreakerOpenTimeout(cfg.Store.Breaker.OpenTimeout),
			xlease.WithBreakerOnStateChange(func(name, from, to string) {
				app.Logger.Warn(context.Background(), "lease store breaker state changed",
					xlog.StoreMode(name), xlog.Component("breaker"),
					xlog.Outcome(from+" -> "+to))
			}),
		)
	}

	app.Recorder = o.recorder
	if app.Recorder == nil {
		if app.Recorder, err = xmetrics.NewOTelRecorder(); err != nil {
			return app, err
		}
	}

	app.Registry, err = xdlock.NewRegistry(app.Store, registryOptions(cfg.Lock, app.Logger, app.Recorder)...)
	if err != nil {
		return app, err
	}

	app.Logger.Debug(context.Background(), "leasekit initialized",
		xlog.StoreMode(string(cfg.Store.Mode)))
	return app, nil
}

// Close 关闭注册表、存储和日志，合并返回错误。可重复调用。
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
		a.closeLog = nil
	}
	return errors.Join(errs...)
}

func newLogger(cfg xconf.LogConfig, output io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().
		SetLevelString(cfg.Level).
		SetFormat(cfg.Format).
		SetOutput(output).
		SetAttrs(slog.String("service", "leasekit"))
	if cfg.File != "" {
		b = b.SetRotation(cfg.File, 0, 0, 0)
	}
	logger, closeFn, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: build logger: %w", err)
	}
	return logger, closeFn, nil
}

func registryOptions(cfg xconf.LockConfig, logger xlog.Logger, recorder xmetrics.Recorder) []xdlock.Option {
	return []xdlock.Option{
		xdlock.WithNamespace(cfg.Namespace),
		xdlock.WithLeaseTTL(cfg.LeaseTTL),
		xdlock.WithRenewalFraction(cfg.RenewalFraction),
		xdlock.WithRetryInterval(cfg.RetryInterval),
		xdlock.WithStoreTimeout(cfg.StoreTimeout),
		xdlock.WithStoreRetries(cfg.StoreRetries),
		xdlock.WithLogger(logger),
		xdlock.WithRecorder(recorder),
		xdlock.WithOnOwnershipLost(func(key string, cause error) {
			logger.Error(context.Background(), "critical section lost its lease",
				xlog.LockKey(key), xlog.Err(cause))
		}),
	}
}

// =============================================================================
// 存储
// =============================================================================

// NewStore 按模式创建存储客户端和租约存储，存储拥有客户端，Close 时一并关闭。
func NewStore(cfg xconf.StoreConfig) (xlease.Store, error) {
	own := xlease.WithCloseClients(true)
	switch cfg.Mode {
	case xconf.ModeSingle:
		return xlease.NewRedisStore(redis.NewClient(redisOptions(cfg, cfg.Addrs[0])), own)
	case xconf.ModeCluster:
		// cluster 与 single 共用 Lua 脚本，记录 key 单个即可定位槽位
		return xlease.NewRedisStore(redis.NewClusterClient(clusterOptions(cfg)), own)
	case xconf.ModeRedlock:
		clients := make([]redis.UniversalClient, 0, len(cfg.Addrs))
		for _, addr := range cfg.Addrs {
			clients = append(clients, redis.NewClient(redisOptions(cfg, addr)))
		}
		return xlease.NewRedlockStore(clients, own)
	case xconf.ModeEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Addrs,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create etcd client: %w", err)
		}
		return xlease.NewEtcdStore(client, own)
	case xconf.ModeMemory:
		return xlease.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// 租约存储的每次调用只发一次请求，重试由 xdlock 的 store_retries 统一控制。
// go-redis 默认的命令重试和拨号重试会在存储宕机时耗尽调用方的超时，
// 使错误变成裸的 context.DeadlineExceeded，因此全部关闭。
const (
	noCommandRetries = -1
	singleDial       = 1
)

func redisOptions(cfg xconf.StoreConfig, addr string) *redis.Options {
	return &redis.Options{
		Addr:          addr,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DB:            cfg.DB,
		DialTimeout:   cfg.DialTimeout,
		MaxRetries:    noCommandRetries,
		DialerRetries: singleDial,
	}
}

func clusterOptions(cfg xconf.StoreConfig) *redis.ClusterOptions {
	return &redis.ClusterOptions{
		Addrs:         cfg.Addrs,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DialTimeout:   cfg.DialTimeout,
		MaxRetries:    noCommandRetries,
		DialerRetries: singleDial,
	}
}
