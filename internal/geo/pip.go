package geo

import "github.com/paulmach/orb"

// 文档注释：点入多边形判定（Even-Odd）
// 约束：第一环为外环，其余为洞；落在洞内视为未命中
func PolygonContains(poly orb.Polygon, pt orb.Point) bool {
	if len(poly) == 0 {
		return false
	}
	if !RingContains(poly[0], pt) {
		return false
	}
	for i := 1; i < len(poly); i++ {
		if RingContains(poly[i], pt) {
			return false
		}
	}
	return true
}

// RingContains：射线法判定点是否在环内
func RingContains(ring orb.Ring, pt orb.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt[0], pt[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
