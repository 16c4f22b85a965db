package xlease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memoryRecord 是进程内租约记录。
type memoryRecord struct {
	token    string
	deadline time.Time
}

// MemoryStore 是进程内 Store 实现。
//
// 过期在访问时惰性判断，不启动后台 goroutine。
// 适用于单进程部署和测试；多进程之间不共享状态。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
	closed  atomic.Bool
}

// NewMemoryStore 创建进程内租约存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// live 返回未过期的记录，过期记录顺带删除。调用方需持有 mu。
func (s *MemoryStore) live(key string) (memoryRecord, bool) {
	rec, ok := s.records[key]
	if !ok {
		return memoryRecord{}, false
	}
	if !s.now().Before(rec.deadline) {
		delete(s.records, key)
		return memoryRecord{}, false
	}
	return rec, true
}

// AcquireIfAbsent 记录不存在或已过期时创建。
func (s *MemoryStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := s.precheck(ctx, true); err != nil {
		return false, err
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.records[key] = memoryRecord{token: token, deadline: s.now().Add(ttl)}
	return true, nil
}

// ExtendIfOwner 记录属于 token 时刷新过期时间。
func (s *MemoryStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := s.precheck(ctx, true); err != nil {
		return false, err
	}
	if err := validate(key, token, ttl, true); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(key)
	if !ok || rec.token != token {
		return false, nil
	}
	rec.deadline = s.now().Add(ttl)
	s.records[key] = rec
	return true, nil
}

// ReleaseIfOwner 记录属于 token 时删除。
func (s *MemoryStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	if err := s.precheck(ctx, false); err != nil {
		return false, err
	}
	if err := validate(key, token, 0, false); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(key)
	if !ok || rec.token != token {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// Owner 返回 key 当前的 owner token（仅用于调试和测试）。
func (s *MemoryStore) Owner(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(key)
	return rec.token, ok
}

// Expire 立即让 key 的记录过期，模拟 TTL 到期。
func (s *MemoryStore) Expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Health 进程内存储始终健康，关闭后返回 ErrStoreClosed。
func (s *MemoryStore) Health(ctx context.Context) error {
	return s.precheck(ctx, true)
}

// Close 关闭存储。
func (s *MemoryStore) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) precheck(ctx context.Context, rejectClosed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rejectClosed && s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
