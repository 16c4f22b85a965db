package xdlock

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// processIdentity 返回 "<hostname>:<pid>"，进程内只计算一次。
var processIdentity = sync.OnceValue(func() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
})

// newOwnerToken 生成 owner token："<hostname>:<pid>:<uuid>"。
func newOwnerToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return processIdentity() + ":" + id.String(), nil
}

// holderKey 是 context 中持有者标识的 key。
type holderKey struct{}

// WithHolder 返回携带持有者标识的 context。
//
// 同一持有者对同一把锁重复 TryLock 视为重入。
// 未显式设置时，首次 TryLock 会生成随机持有者标识并写入返回的 context。
func WithHolder(ctx context.Context, holder string) context.Context {
	return context.WithValue(ctx, holderKey{}, holder)
}

// HolderFrom 从 context 中取出持有者标识。
func HolderFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	h, ok := ctx.Value(holderKey{}).(string)
	return h, ok && h != ""
}
