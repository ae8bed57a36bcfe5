package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 文档注释：视图状态持久化
// 背景：控制器实例之间（例如页面重新打开）延续相机位置。
type ViewStore interface {
	Load(ctx context.Context, key string) (ViewState, bool, error)
	Save(ctx context.Context, key string, v ViewState) error
}

// 文档注释：Redis 视图存储
// 约束：键为 Prefix+key，Prefix 默认 mapview:view:；TTL 默认 7 天；无效视图拒绝写入，读到无效视图视为不存在。
type RedisViewStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s RedisViewStore) key(k string) string {
	if s.Prefix == "" {
		return "mapview:view:" + k
	}
	return s.Prefix + k
}

func (s RedisViewStore) Load(ctx context.Context, key string) (ViewState, bool, error) {
	b, err := s.Client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ViewState{}, false, nil
	}
	if err != nil {
		return ViewState{}, false, err
	}
	var v ViewState
	if err := json.Unmarshal(b, &v); err != nil || !v.Valid() {
		return ViewState{}, false, nil
	}
	return v, true, nil
}

func (s RedisViewStore) Save(ctx context.Context, key string, v ViewState) error {
	if !v.Valid() {
		return errors.New("view state not finite")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return s.Client.Set(ctx, s.key(key), b, ttl).Err()
}

// MemoryViewStore：进程内视图存储
type MemoryViewStore struct {
	mu sync.Mutex
	m  map[string]ViewState
}

func (s *MemoryViewStore) Load(_ context.Context, key string) (ViewState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryViewStore) Save(_ context.Context, key string, v ViewState) error {
	if !v.Valid() {
		return errors.New("view state not finite")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]ViewState)
	}
	s.m[key] = v
	return nil
}
