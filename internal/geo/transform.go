package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// 文档注释：坐标系转换（WGS84 <-> GCJ-02，WGS84 <-> Web Mercator）
// 背景：高德底图使用 GCJ-02，要素与视图状态统一按 WGS84 保存；开启纠偏时在适配器边界做双向转换。
// 约束：GCJ-02 逆变换用不动点迭代求解，往返误差低于 1e-9 度；中国境外不做偏移。

// ToGCJ02：WGS84 经纬度转为 GCJ-02
func ToGCJ02(p orb.Point) orb.Point {
	lng, lat := p.Lon(), p.Lat()
	if outOfChina(lat, lng) {
		return p
	}
	dLat := transformLat(lng-105.0, lat-35.0)
	dLng := transformLng(lng-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - ee*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((semiMajor * (1 - ee)) / (magic * sqrtMagic) * math.Pi)
	dLng = (dLng * 180.0) / (semiMajor / sqrtMagic * math.Cos(radLat) * math.Pi)
	return orb.Point{lng + dLng, lat + dLat}
}

// gcjInverseEpsilon 逆变换迭代的收敛阈值（度）
const (
	gcjInverseEpsilon = 1e-10
	gcjInverseMaxIter = 10
)

// 文档注释：GCJ-02 转回 WGS84
// 背景：正变换没有解析逆；以 w = w - (ToGCJ02(w) - p) 迭代，偏移量对坐标的导数很小，通常 3 到 4 步收敛。
func FromGCJ02(p orb.Point) orb.Point {
	w := p
	for i := 0; i < gcjInverseMaxIter; i++ {
		g := ToGCJ02(w)
		dLng, dLat := g.Lon()-p.Lon(), g.Lat()-p.Lat()
		w = orb.Point{w.Lon() - dLng, w.Lat() - dLat}
		if math.Abs(dLng) < gcjInverseEpsilon && math.Abs(dLat) < gcjInverseEpsilon {
			break
		}
	}
	return w
}

// ToMercator：WGS84 经纬度转为 EPSG:3857 米制坐标
func ToMercator(p orb.Point) orb.Point { return project.WGS84.ToMercator(p) }

// ToWGS84：EPSG:3857 米制坐标转回经纬度
func ToWGS84(p orb.Point) orb.Point { return project.Mercator.ToWGS84(p) }

const (
	semiMajor = 6378245.0
	ee        = 0.00669342162296594323
)

func outOfChina(lat, lng float64) bool {
	return lng < 72.004 || lng > 137.8347 || lat < 0.8293 || lat > 55.8271
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
