package xconf

import (
	"fmt"
	"strings"

	"github.com/omeyang/leasekit/pkg/observability/xlog"
)

// Validate 检查配置值是否合法。
// 返回的错误包装 ErrInvalidConfig，并指明出错的字段。
func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Lock.validate(); err != nil {
		return err
	}
	return c.Log.validate()
}

func (s *StoreConfig) validate() error {
	switch s.Mode {
	case ModeSingle, ModeCluster, ModeRedlock, ModeEtcd:
		if len(s.Addrs) == 0 {
			return invalid("store.addrs", "must not be empty for mode %q", s.Mode)
		}
		for i, addr := range s.Addrs {
			if strings.TrimSpace(addr) == "" {
				return invalid("store.addrs", "entry %d is empty", i)
			}
		}
	case ModeMemory:
	default:
		return invalid("store.mode", "unknown mode %q", s.Mode)
	}
	if s.Mode == ModeSingle && len(s.Addrs) > 1 {
		return invalid("store.addrs", "mode single accepts one address, got %d", len(s.Addrs))
	}
	if s.DB < 0 {
		return invalid("store.db", "must not be negative")
	}
	if s.Breaker.Enabled && s.Breaker.Failures == 0 {
		return invalid("store.breaker.failures", "must be positive when the breaker is enabled")
	}
	return nil
}

func (l *LockConfig) validate() error {
	switch {
	case l.LeaseTTL <= 0:
		return invalid("lock.lease_ttl", "must be positive, got %s", l.LeaseTTL)
	case l.RenewalFraction <= 0 || l.RenewalFraction >= 1:
		return invalid("lock.renewal_fraction", "must be in (0, 1), got %g", l.RenewalFraction)
	case l.RetryInterval <= 0 || l.RetryInterval >= l.LeaseTTL:
		return invalid("lock.retry_interval", "must be in (0, lease_ttl), got %s", l.RetryInterval)
	case l.StoreTimeout <= 0:
		return invalid("lock.store_timeout", "must be positive, got %s", l.StoreTimeout)
	case l.StoreRetries < 0:
		return invalid("lock.store_retries", "must not be negative, got %d", l.StoreRetries)
	case l.AcquireWait < 0:
		return invalid("lock.acquire_wait", "must not be negative, got %s", l.AcquireWait)
	}
	return nil
}

func (l *LogConfig) validate() error {
	if _, err := xlog.ParseLevel(l.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format", "unknown format %q", l.Format)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}
