// 包 amap：高德 JS API 2.0 的进程级加载运行时、无界面地图实例与底图适配器
package amap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mapview/internal/logger"
	"mapview/internal/metrics"
)

const (
	// DefaultEndpoint JS API 加载地址
	DefaultEndpoint = "https://webapi.amap.com"
	// SDKVersion JS API 版本
	SDKVersion = "2.0"
	// SecurityKey 安全密钥在安全配置中的键名
	SecurityKey = "securityJsCode"
	// maxSDKBytes SDK 响应体读取上限
	maxSDKBytes = 8 << 20
	// loadTimeout 合并后的一次 SDK 加载的时限，与调用方的 ctx 无关
	loadTimeout = 15 * time.Second
)

// DefaultPlugins 默认加载的插件
var DefaultPlugins = []string{"AMap.Scale", "AMap.ToolBar", "AMap.CircleMarker"}

// 文档注释：已加载的 SDK 模块
// 约束：加载完成后只读；Has 判断插件是否随模块一起加载成功。
type Module struct {
	Version  string
	Key      string
	LoadedAt time.Time
	plugins  map[string]bool
}

func (m *Module) Has(plugin string) bool { return m != nil && m.plugins[plugin] }

// 文档注释：进程级安全配置（对应页面上的 _AMapSecurityConfig）
// 约束：只增不删；同名键首次写入后保持不变。
type SecurityConfig struct {
	mu   sync.RWMutex
	vals map[string]string
}

// Set：写入键值，已存在时不覆盖；返回是否写入
func (s *SecurityConfig) Set(key, val string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = make(map[string]string)
	}
	if _, ok := s.vals[key]; ok {
		return false
	}
	s.vals[key] = val
	return true
}

func (s *SecurityConfig) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

// 文档注释：SDK 加载运行时
// 背景：同一进程内 SDK 只加载一次，后续挂载复用已加载模块；并发的首次加载经 singleflight 合并为一次请求。
// 约束：按版本、Key 与插件集合缓存；失败不缓存，下次调用重新加载；Client 为空时使用 10s 超时的默认客户端。
type Runtime struct {
	Endpoint string
	Client   *http.Client

	security SecurityConfig
	mu       sync.Mutex
	modules  map[string]*Module
	sf       singleflight.Group
}

func NewRuntime(endpoint string, client *http.Client) *Runtime {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Runtime{Endpoint: strings.TrimRight(endpoint, "/"), Client: client, modules: make(map[string]*Module)}
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// DefaultRuntime：进程级默认运行时，首次调用时初始化
func DefaultRuntime() *Runtime {
	defaultOnce.Do(func() { defaultRT = NewRuntime(DefaultEndpoint, nil) })
	return defaultRT
}

func (r *Runtime) Security() *SecurityConfig { return &r.security }

// Cached：已缓存的模块数量
func (r *Runtime) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// 文档注释：加载 SDK 模块
// 参数：key 为 JS API Key（必填）；plugins 为空时使用 DefaultPlugins。
// 返回：已加载模块；HTTP 失败、状态码非 200 或响应为 status=0 的错误体时返回错误。
// 约束：合并后的请求运行在脱离调用方取消的 ctx 上（保留其值，时限 loadTimeout）；调用方取消只让自己提前返回 ctx.Err()，其余等待者照常拿到结果。
func (r *Runtime) Load(ctx context.Context, key string, plugins []string) (*Module, error) {
	if key == "" {
		return nil, errors.New("missing key")
	}
	if len(plugins) == 0 {
		plugins = DefaultPlugins
	}
	ps := append([]string(nil), plugins...)
	sort.Strings(ps)
	ck := SDKVersion + "|" + key + "|" + strings.Join(ps, ",")
	r.mu.Lock()
	if m := r.modules[ck]; m != nil {
		r.mu.Unlock()
		metrics.SDKLoadTotal.WithLabelValues("amap", "hit").Inc()
		return m, nil
	}
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(ck, func() (any, error) {
		r.mu.Lock()
		if m := r.modules[ck]; m != nil {
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		fctx, cancel := context.WithTimeout(detached, loadTimeout)
		defer cancel()
		m, err := r.fetch(fctx, key, ps)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.modules == nil {
			r.modules = make(map[string]*Module)
		}
		r.modules[ck] = m
		r.mu.Unlock()
		return m, nil
	})
	select {
	case <-ctx.Done():
		logger.For("amap").Debug("amap_sdk_load_abandoned", "err", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.For("amap").Debug("amap_sdk_load_shared")
		}
		return res.Val.(*Module), nil
	}
}

type sdkError struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	Infocode string `json:"infocode"`
}

func (r *Runtime) fetch(ctx context.Context, key string, plugins []string) (*Module, error) {
	q := url.Values{}
	q.Set("v", SDKVersion)
	q.Set("key", key)
	q.Set("plugin", strings.Join(plugins, ","))
	if code, ok := r.security.Get(SecurityKey); ok && code != "" {
		q.Set("jscode", code)
	}
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u := endpoint + "/maps?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	log := logger.For("amap")
	t0 := time.Now()
	log.Debug("amap_sdk_load_begin", "version", SDKVersion, "plugins", len(plugins))
	fail := func(err error) (*Module, error) {
		metrics.SDKLoadTotal.WithLabelValues("amap", "fail").Inc()
		metrics.SDKLoadDurationMs.WithLabelValues("amap").Observe(float64(time.Since(t0).Milliseconds()))
		log.Error("amap_sdk_load_error", "err", err)
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("amap sdk: http %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSDKBytes))
	if err != nil {
		return fail(err)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		var se sdkError
		if json.Unmarshal(trimmed, &se) == nil && se.Status == "0" {
			return fail(fmt.Errorf("amap sdk: %s (%s)", se.Info, se.Infocode))
		}
	}
	m := &Module{Version: SDKVersion, Key: key, LoadedAt: time.Now(), plugins: make(map[string]bool, len(plugins))}
	for _, p := range plugins {
		m.plugins[p] = bytes.Contains(body, []byte(p))
	}
	dur := time.Since(t0).Milliseconds()
	metrics.SDKLoadTotal.WithLabelValues("amap", "ok").Inc()
	metrics.SDKLoadDurationMs.WithLabelValues("amap").Observe(float64(dur))
	log.Info("amap_sdk_loaded", "version", SDKVersion, "bytes", len(body), "circle_marker", m.Has("AMap.CircleMarker"), "duration_ms", dur)
	return m, nil
}
