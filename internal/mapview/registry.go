package mapview

import (
	"sync"

	"mapview/internal/config"
	"mapview/internal/logger"
)

// BaseMap 底图选项
type BaseMap struct {
	Value   string  `json:"value"`
	Label   string  `json:"label"`
	Variant Variant `json:"variant"`
	Style   string  `json:"style"`
}

// 文档注释：提供方注册项
// 背景：New 按当前凭据构造适配器；Available 判断凭据是否满足该提供方；BaseMaps 为其提供的底图选项。
type Provider struct {
	Variant   Variant
	New       func(creds config.Credentials) Adapter
	Available func(creds config.Credentials) bool
	BaseMaps  []BaseMap
}

// 文档注释：提供方注册表
// 背景：控制器只通过注册表选择提供方，调用点不做类型判断。
// 约束：选项顺序即注册顺序，第一个可用选项为默认底图；线程安全读写。
type Registry struct {
	mu    sync.RWMutex
	order []Variant
	ps    map[Variant]Provider
}

func NewRegistry() *Registry {
	return &Registry{ps: make(map[Variant]Provider)}
}

// Register：注册或覆盖提供方
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ps[p.Variant]; !ok {
		r.order = append(r.order, p.Variant)
	}
	bms := make([]BaseMap, len(p.BaseMaps))
	for i, b := range p.BaseMaps {
		b.Variant = p.Variant
		bms[i] = b
	}
	p.BaseMaps = bms
	r.ps[p.Variant] = p
	logger.L().Info("provider_registered", "variant", string(p.Variant), "basemaps", len(p.BaseMaps))
}

// Options：当前凭据下可用的底图选项
func (r *Registry) Options(creds config.Credentials) []BaseMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []BaseMap
	for _, v := range r.order {
		p := r.ps[v]
		if p.Available != nil && !p.Available(creds) {
			continue
		}
		out = append(out, p.BaseMaps...)
	}
	return out
}

// Default：默认底图；没有可用选项时取第一个注册的底图，挂载时以凭据缺失报告
func (r *Registry) Default(creds config.Credentials) (BaseMap, bool) {
	if opts := r.Options(creds); len(opts) > 0 {
		return opts[0], true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.order {
		if bm := r.ps[v].BaseMaps; len(bm) > 0 {
			return bm[0], true
		}
	}
	return BaseMap{}, false
}

// Lookup：按选项值查找底图及其提供方
func (r *Registry) Lookup(value string) (BaseMap, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.order {
		p := r.ps[v]
		for _, b := range p.BaseMaps {
			if b.Value == value {
				return b, p, true
			}
		}
	}
	return BaseMap{}, Provider{}, false
}
