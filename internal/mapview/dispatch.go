package mapview

import (
	"github.com/paulmach/orb"

	"mapview/internal/feature"
	"mapview/internal/geo"
	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// ShapeKind 覆盖物形态
type ShapeKind int

const (
	ShapeMarker ShapeKind = iota + 1
	ShapePolyline
	ShapePolygon
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeMarker:
		return "marker"
	case ShapePolyline:
		return "polyline"
	case ShapePolygon:
		return "polygon"
	}
	return "unknown"
}

// 文档注释：覆盖物描述
// 背景：几何分派的输出，提供方据此创建原生覆盖物。多部件几何每个部件一份，Part 为部件序号。
// 约束：Feature 始终指向调用方的原始要素而不是子部件；Geometry 只会是 orb.Point、orb.LineString 或 orb.Polygon。
type Shape struct {
	Kind     ShapeKind
	Geometry orb.Geometry
	Feature  *feature.Feature
	Part     int
}

func (s Shape) Bound() orb.Bound { return s.Geometry.Bound() }

// 文档注释：将要素几何分派为覆盖物描述
// 背景：六种 GeoJSON 几何的封闭分派；Multi* 按部件展开。
// 约束：类型未知、坐标缺失或畸形时返回空切片，不报错，批处理继续。
func ShapesFor(f *feature.Feature) []Shape {
	if f == nil {
		return nil
	}
	g, err := f.Geometry.Decode()
	if err != nil {
		typ := ""
		if f.Geometry != nil {
			typ = f.Geometry.Type
		}
		logger.For("dispatch").Debug("feature_geometry_skip", "id", f.ID, "type", typ, "err", err)
		metrics.FeaturesSkippedTotal.WithLabelValues("geometry").Inc()
		return nil
	}
	var out []Shape
	switch g := g.(type) {
	case orb.Point:
		out = append(out, Shape{Kind: ShapeMarker, Geometry: g, Feature: f})
	case orb.MultiPoint:
		for i, p := range g {
			out = append(out, Shape{Kind: ShapeMarker, Geometry: p, Feature: f, Part: i})
		}
	case orb.LineString:
		out = append(out, Shape{Kind: ShapePolyline, Geometry: g, Feature: f})
	case orb.MultiLineString:
		for i, ls := range g {
			out = append(out, Shape{Kind: ShapePolyline, Geometry: ls, Feature: f, Part: i})
		}
	case orb.Polygon:
		out = append(out, Shape{Kind: ShapePolygon, Geometry: g, Feature: f})
	case orb.MultiPolygon:
		for i, p := range g {
			out = append(out, Shape{Kind: ShapePolygon, Geometry: p, Feature: f, Part: i})
		}
	default:
		metrics.FeaturesSkippedTotal.WithLabelValues("geometry").Inc()
	}
	return out
}

// 文档注释：解析点击回调坐标
// 背景：点状覆盖物取自身位置；线与面优先使用原生事件给出的坐标（native 非空），否则线取距 near 最近的线上点，面取内部点。
func ClickPoint(s Shape, native *orb.Point, near orb.Point) orb.Point {
	switch g := s.Geometry.(type) {
	case orb.Point:
		return g
	case orb.LineString:
		if native != nil {
			return *native
		}
		return geo.ClosestPointOnLine(g, near)
	case orb.Polygon:
		if native != nil {
			return *native
		}
		return geo.InteriorPoint(g)
	}
	if native != nil {
		return *native
	}
	return near
}
