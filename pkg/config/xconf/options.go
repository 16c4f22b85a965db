package xconf

// DefaultEnvPrefix 环境变量前缀。
const DefaultEnvPrefix = "LEASEKIT_"

type options struct {
	envPrefix string
	useEnv    bool
}

// Option 定义配置加载选项。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		envPrefix: DefaultEnvPrefix,
		useEnv:    true,
	}
}

// WithEnvPrefix 设置环境变量前缀，默认 "LEASEKIT_"。
//
// 变量名去掉前缀后转小写，"__" 表示层级，
// 例如 LEASEKIT_LOCK__LEASE_TTL=10s 覆盖 lock.lease_ttl。
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.envPrefix = prefix
		}
	}
}

// WithoutEnv 禁用环境变量覆盖。
func WithoutEnv() Option {
	return func(o *options) {
		o.useEnv = false
	}
}
