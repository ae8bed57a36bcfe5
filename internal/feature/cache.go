package feature

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// 文档注释：Redis 缓存包装
// 背景：同一图层在会话内被反复预览，缓存序列化后的 FeatureCollection 减少数据库与文件读取。
// 约束：Client 为空时直接透传；缓存读写失败不影响主流程；Payload 不进入缓存。
type CachedSource struct {
	Source Source
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func (c CachedSource) Name() string { return "cached:" + c.Source.Name() }

func (c CachedSource) Features(ctx context.Context) ([]Feature, error) {
	if c.Client == nil {
		return c.Source.Features(ctx)
	}
	key := c.cacheKey()
	log := logger.For("feature")
	if b, err := c.Client.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		if fs, err := ParseCollection(b); err == nil {
			metrics.FeatureCacheHitsTotal.Inc()
			log.Debug("feature_cache_hit", "key", key, "features", len(fs))
			return fs, nil
		}
	} else if err != nil && err != redis.Nil {
		log.Warn("feature_cache_get_error", "key", key, "err", err)
	}
	metrics.FeatureCacheMissesTotal.Inc()
	fs, err := c.Source.Features(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := MarshalCollection(fs); err == nil {
		if err := c.Client.Set(ctx, key, b, c.ttl()).Err(); err != nil {
			log.Warn("feature_cache_set_error", "key", key, "err", err)
		}
	}
	return fs, nil
}

func (c CachedSource) cacheKey() string {
	if c.Key != "" {
		return "mapview:features:" + c.Key
	}
	return "mapview:features:" + c.Source.Name()
}

func (c CachedSource) ttl() time.Duration {
	if c.TTL <= 0 {
		return time.Hour
	}
	return c.TTL
}
