package feature

import "context"

// 文档注释：要素来源
// 背景：核心渲染层不做网络 I/O，要素由来源按需提供（文件、PostGIS 表、缓存包装）。
type Source interface {
	Name() string
	Features(ctx context.Context) ([]Feature, error)
}

// Static：内存中的固定要素集合
type Static []Feature

func (s Static) Name() string { return "static" }

func (s Static) Features(context.Context) ([]Feature, error) {
	out := make([]Feature, len(s))
	copy(out, s)
	return out, nil
}
