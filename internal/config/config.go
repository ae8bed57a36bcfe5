// 包 config：地图服务凭据（高德 Key/安全密钥、天地图 Key）的读取与会话级缓存
package config

import (
	"context"
	"sync"

	"mapview/internal/logger"
)

// 文档注释：地图服务凭据三元组
// 背景：JSON 字段名与管理端 /config/map 接口保持一致，便于直接解码。
// 约束：任一 Key 缺失只影响对应的底图提供方，不影响控制器整体。
type Credentials struct {
	ClientKey      string `json:"amap_key"`
	SecurityToken  string `json:"amap_security_js_code"`
	TileServiceKey string `json:"tdt_key"`
}

func (c Credentials) HasClientKey() bool      { return c.ClientKey != "" }
func (c Credentials) HasTileServiceKey() bool { return c.TileServiceKey != "" }

// WithFallback：逐项补齐缺失的 Key
// 约束：安全密钥跟随客户端 Key 一起回退，不单独从后备来源借用。
func (c Credentials) WithFallback(fb Credentials) Credentials {
	out := c
	if out.ClientKey == "" && fb.ClientKey != "" {
		out.ClientKey = fb.ClientKey
		if out.SecurityToken == "" {
			out.SecurityToken = fb.SecurityToken
		}
	}
	if out.TileServiceKey == "" {
		out.TileServiceKey = fb.TileServiceKey
	}
	return out
}

// Source：凭据来源
type Source interface {
	Load(ctx context.Context) (Credentials, error)
}

// 文档注释：会话级凭据加载器
// 背景：凭据每个会话只拉取一次；主来源失败仅告警并使用后备来源（通常为环境变量）。
// 约束：首次 Load 完成后结果固定，Reset 用于凭据轮换后重新拉取。
type Loader struct {
	primary  Source
	fallback Source

	mu     sync.Mutex
	loaded bool
	creds  Credentials
}

func NewLoader(primary, fallback Source) *Loader {
	return &Loader{primary: primary, fallback: fallback}
}

func (l *Loader) Load(ctx context.Context) Credentials {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.creds
	}
	log := logger.For("config")
	var c Credentials
	if l.primary != nil {
		got, err := l.primary.Load(ctx)
		if err != nil {
			log.Warn("map_config_load_failed", "err", err)
		} else {
			c = got
		}
	}
	if l.fallback != nil {
		if fb, err := l.fallback.Load(ctx); err == nil {
			c = c.WithFallback(fb)
		} else {
			log.Warn("map_config_fallback_failed", "err", err)
		}
	}
	l.creds = c
	l.loaded = true
	log.Info("map_config_loaded", "client_key", c.HasClientKey(), "security_token", c.SecurityToken != "", "tile_key", c.HasTileServiceKey())
	return c
}

// Reset：清除缓存结果，下一次 Load 重新拉取
func (l *Loader) Reset() {
	l.mu.Lock()
	l.loaded = false
	l.creds = Credentials{}
	l.mu.Unlock()
}

// Static：固定凭据来源，用于测试与手工注入
type Static Credentials

func (s Static) Load(context.Context) (Credentials, error) { return Credentials(s), nil }
