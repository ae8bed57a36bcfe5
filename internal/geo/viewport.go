package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// TileSize 瓦片像素边长
	TileSize = 256
	// EarthRadius Web Mercator 球半径（米）
	EarthRadius = 6378137.0
)

// Resolution：给定缩放级别下每像素对应的米数
func Resolution(zoom float64) float64 {
	return 2 * math.Pi * EarthRadius / (TileSize * math.Pow(2, zoom))
}

// ZoomForResolution：Resolution 的逆运算
func ZoomForResolution(res float64) float64 {
	return math.Log2(2 * math.Pi * EarthRadius / (TileSize * res))
}

// Padding 上、右、下、左像素留白
type Padding [4]float64

// UniformPadding：四边相同的留白
func UniformPadding(px float64) Padding { return Padding{px, px, px, px} }

// 文档注释：视口（Web Mercator 米制中心 + 缩放 + 像素尺寸）
// 约束：像素坐标原点在左上角，x 向右、y 向下；中心位于 (W/2, H/2)
type Viewport struct {
	Center orb.Point
	Zoom   float64
	Width  int
	Height int
}

func (v Viewport) ToPixel(m orb.Point) orb.Point {
	res := Resolution(v.Zoom)
	return orb.Point{
		float64(v.Width)/2 + (m[0]-v.Center[0])/res,
		float64(v.Height)/2 - (m[1]-v.Center[1])/res,
	}
}

func (v Viewport) FromPixel(px orb.Point) orb.Point {
	res := Resolution(v.Zoom)
	return orb.Point{
		v.Center[0] + (px[0]-float64(v.Width)/2)*res,
		v.Center[1] - (px[1]-float64(v.Height)/2)*res,
	}
}

// Extent：视口覆盖的米制范围
func (v Viewport) Extent() orb.Bound {
	res := Resolution(v.Zoom)
	hw, hh := float64(v.Width)/2*res, float64(v.Height)/2*res
	return orb.Bound{
		Min: orb.Point{v.Center[0] - hw, v.Center[1] - hh},
		Max: orb.Point{v.Center[0] + hw, v.Center[1] + hh},
	}
}

// 文档注释：计算适配范围的中心与缩放
// 背景：与 OpenLayers View.fit 一致，按留白后的可用像素取较大分辨率；单点范围分辨率为 0，由 maxZoom 截断。
// 约束：extent 为米制坐标；可用尺寸不足 1px 时按 1px 计算，保证结果有限。
func Fit(extent orb.Bound, width, height int, pad Padding, minZoom, maxZoom float64) (orb.Point, float64) {
	aw := math.Max(1, float64(width)-pad[1]-pad[3])
	ah := math.Max(1, float64(height)-pad[0]-pad[2])
	res := math.Max((extent.Max[0]-extent.Min[0])/aw, (extent.Max[1]-extent.Min[1])/ah)
	zoom := maxZoom
	if res > 0 {
		zoom = math.Min(maxZoom, ZoomForResolution(res))
	}
	zoom = math.Max(minZoom, zoom)
	res = Resolution(zoom)
	c := extent.Center()
	// 非对称留白时中心向留白较小的一侧偏移
	c[0] += (pad[1] - pad[3]) / 2 * res
	c[1] += (pad[2] - pad[0]) / 2 * res
	return c, zoom
}

// Finite：两个分量均为有限数
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
