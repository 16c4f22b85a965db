package xconf

import "time"

// StoreMode 定义租约存储的部署模式。
type StoreMode string

// 支持的存储模式。
const (
	// ModeSingle 单节点 Redis。
	ModeSingle StoreMode = "single"
	// ModeCluster Redis Cluster，与 single 使用同一套 Lua 脚本，仅连接拓扑不同。
	ModeCluster StoreMode = "cluster"
	// ModeRedlock 多个独立 Redis 节点上的 Redlock，addrs 建议为奇数个。
	ModeRedlock StoreMode = "redlock"
	// ModeEtcd etcd 事务 + 租约。
	ModeEtcd StoreMode = "etcd"
	// ModeMemory 进程内存储，仅用于测试和单进程场景。
	ModeMemory StoreMode = "memory"
)

// Config 是 leasekit 的完整配置。
type Config struct {
	Store StoreConfig `koanf:"store"`
	Lock  LockConfig  `koanf:"lock"`
	Log   LogConfig   `koanf:"log"`
}

// StoreConfig 租约存储连接配置。
type StoreConfig struct {
	Mode        StoreMode     `koanf:"mode"`
	Addrs       []string      `koanf:"addrs"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Breaker     BreakerConfig `koanf:"breaker"`
}

// BreakerConfig 存储熔断配置。
type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Failures    uint32        `koanf:"failures"`
	OpenTimeout time.Duration `koanf:"open_timeout"`
}

// LockConfig 锁行为配置，对应 xdlock 的注册表选项。
type LockConfig struct {
	// Namespace 存储记录 key 的前缀，记录 key 为 namespace + ":" + key。
	Namespace       string        `koanf:"namespace"`
	LeaseTTL        time.Duration `koanf:"lease_ttl"`
	RenewalFraction float64       `koanf:"renewal_fraction"`
	RetryInterval   time.Duration `koanf:"retry_interval"`
	StoreTimeout    time.Duration `koanf:"store_timeout"`
	StoreRetries    int           `koanf:"store_retries"`
	// AcquireWait 命令行未指定 --wait 时的默认等待时长。
	AcquireWait time.Duration `koanf:"acquire_wait"`
	// KeyPrefix 命令行资源 key 的前缀，例如 "resource-"。
	KeyPrefix string `koanf:"key_prefix"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// File 非空时写入文件并按大小轮转。
	File string `koanf:"file"`
}

// Default 返回默认配置。
func Default() Config {
	return Config{
		Store: StoreConfig{
			Mode:        ModeSingle,
			Addrs:       []string{"localhost:6379"},
			DialTimeout: 5 * time.Second,
			Breaker: BreakerConfig{
				Failures:    5,
				OpenTimeout: 10 * time.Second,
			},
		},
		Lock: LockConfig{
			Namespace:       "LOCK",
			LeaseTTL:        30 * time.Second,
			RenewalFraction: 1.0 / 3,
			RetryInterval:   50 * time.Millisecond,
			StoreTimeout:    time.Second,
			StoreRetries:    3,
			AcquireWait:     100 * time.Millisecond,
			KeyPrefix:       "resource-",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
