package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ClosestPointOnLine：折线上距 p 最近的点；空折线返回 p
func ClosestPointOnLine(ls orb.LineString, p orb.Point) orb.Point {
	switch len(ls) {
	case 0:
		return p
	case 1:
		return ls[0]
	}
	best := ls[0]
	bestD := math.Inf(1)
	for i := 0; i+1 < len(ls); i++ {
		c := closestOnSegment(ls[i], ls[i+1], p)
		if d := planar.DistanceSquared(c, p); d < bestD {
			bestD = d
			best = c
		}
	}
	return best
}

func closestOnSegment(a, b, p orb.Point) orb.Point {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return a
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// DistanceToLine：点到折线的平面距离
func DistanceToLine(ls orb.LineString, p orb.Point) float64 {
	return planar.Distance(ClosestPointOnLine(ls, p), p)
}

// DistanceToRingEdge：点到环边界的平面距离
func DistanceToRingEdge(r orb.Ring, p orb.Point) float64 {
	return DistanceToLine(orb.LineString(r), p)
}

// 文档注释：多边形内部点
// 背景：点击面要素时以内部点作为弹窗锚点；质心可能落在凹多边形之外，因此按包围盒中线做扫描。
// 约束：取中线与各环交点区间中最宽的一段的中点；退化多边形回退到外环首点。
func InteriorPoint(poly orb.Polygon) orb.Point {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return orb.Point{}
	}
	b := poly.Bound()
	y := (b.Min[1] + b.Max[1]) / 2
	var xs []float64
	for _, ring := range poly {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			yi, yj := ring[i][1], ring[j][1]
			if (yi > y) != (yj > y) {
				xs = append(xs, ring[i][0]+(y-yi)*(ring[j][0]-ring[i][0])/(yj-yi))
			}
		}
	}
	sort.Float64s(xs)
	bestW := -1.0
	var out orb.Point
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > bestW {
			bestW = w
			out = orb.Point{(xs[i] + xs[i+1]) / 2, y}
		}
	}
	if bestW < 0 {
		return poly[0][0]
	}
	return out
}
