// 包 feature：GeoJSON 形态的要素模型、宽容解码与要素来源
package feature

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"mapview/internal/geo"
)

var (
	ErrUnknownGeometry    = errors.New("unknown geometry type")
	ErrMissingCoordinates = errors.New("missing coordinates")
	ErrBadCoordinates     = errors.New("malformed coordinates")
)

// 文档注释：要素（调用方输入，只读）
// 背景：几何保留原始坐标 JSON，渲染时再按类型解码；Payload 为调用方不透明数据，点击回调原样带回。
// 约束：核心逻辑不修改要素，只持有指针引用。
type Feature struct {
	ID         any            `json:"id,omitempty"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
	Payload    any            `json:"-"`
}

// Geometry：GeoJSON 几何，坐标延迟解码
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// New：由 orb 几何构造要素
func New(g orb.Geometry, props map[string]any) Feature {
	var gj Geometry
	if raw, err := json.Marshal(geojson.NewGeometry(g)); err == nil {
		_ = json.Unmarshal(raw, &gj)
	}
	return Feature{Geometry: &gj, Properties: props}
}

func (f Feature) MarshalJSON() ([]byte, error) {
	type plain Feature
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: "Feature", plain: plain(f)})
}

// 文档注释：解码为 orb 几何
// 约束：仅支持六种基础类型；坐标缺失、嵌套层级不符、位置少于两个分量或非有限数均返回错误；线至少两点，环至少三点。
func (g *Geometry) Decode() (orb.Geometry, error) {
	if g == nil || g.Type == "" {
		return nil, ErrUnknownGeometry
	}
	if len(g.Coordinates) == 0 || string(g.Coordinates) == "null" {
		switch g.Type {
		case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon":
			return nil, ErrMissingCoordinates
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownGeometry, g.Type)
	}
	switch g.Type {
	case "Point":
		var c []float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		return position(c)
	case "MultiPoint":
		var c [][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		mp, err := positions(c, 1)
		return orb.MultiPoint(mp), err
	case "LineString":
		var c [][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		ls, err := positions(c, 2)
		return orb.LineString(ls), err
	case "MultiLineString":
		var c [][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		mls := make(orb.MultiLineString, 0, len(c))
		for _, line := range c {
			ls, err := positions(line, 2)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(ls))
		}
		if len(mls) == 0 {
			return nil, ErrMissingCoordinates
		}
		return mls, nil
	case "Polygon":
		var c [][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		return polygon(c)
	case "MultiPolygon":
		var c [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
		}
		mp := make(orb.MultiPolygon, 0, len(c))
		for _, pc := range c {
			p, err := polygon(pc)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		if len(mp) == 0 {
			return nil, ErrMissingCoordinates
		}
		return mp, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGeometry, g.Type)
}

func position(c []float64) (orb.Point, error) {
	if len(c) < 2 || !geo.Finite(c[0], c[1]) {
		return orb.Point{}, ErrBadCoordinates
	}
	return orb.Point{c[0], c[1]}, nil
}

func positions(c [][]float64, min int) ([]orb.Point, error) {
	if len(c) < min {
		return nil, ErrBadCoordinates
	}
	out := make([]orb.Point, 0, len(c))
	for _, pc := range c {
		p, err := position(pc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func polygon(c [][][]float64) (orb.Polygon, error) {
	if len(c) == 0 {
		return nil, ErrBadCoordinates
	}
	poly := make(orb.Polygon, 0, len(c))
	for _, rc := range c {
		r, err := positions(rc, 3)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(r))
	}
	return poly, nil
}
