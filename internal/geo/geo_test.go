package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestGCJ02RoundTrip(t *testing.T) {
	p := orb.Point{104.0668, 30.5728}
	g := ToGCJ02(p)
	assert.NotEqual(t, p, g)
	back := FromGCJ02(g)
	assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
	assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)

	outside := orb.Point{2.35, 48.85}
	assert.Equal(t, outside, ToGCJ02(outside))
}

func TestGCJ02RepeatedRoundTripDoesNotDrift(t *testing.T) {
	p := orb.Point{116.5, 39.5}
	cur := p
	for i := 0; i < 10; i++ {
		cur = FromGCJ02(ToGCJ02(cur))
	}
	assert.InDelta(t, p.Lon(), cur.Lon(), 1e-8)
	assert.InDelta(t, p.Lat(), cur.Lat(), 1e-8)
}

func TestMercatorRoundTrip(t *testing.T) {
	p := orb.Point{104.0, 30.5}
	back := ToWGS84(ToMercator(p))
	assert.InDelta(t, 104.0, back.Lon(), 1e-9)
	assert.InDelta(t, 30.5, back.Lat(), 1e-9)
}

func TestPolygonContainsWithHole(t *testing.T) {
	poly := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}
	assert.True(t, PolygonContains(poly, orb.Point{2, 2}))
	assert.False(t, PolygonContains(poly, orb.Point{5, 5}))
	assert.False(t, PolygonContains(poly, orb.Point{11, 5}))
	assert.False(t, PolygonContains(orb.Polygon{}, orb.Point{0, 0}))
}

func TestClosestPointOnLine(t *testing.T) {
	ls := orb.LineString{{0, 0}, {10, 0}, {10, 10}}
	tests := []struct {
		p, want orb.Point
	}{
		{orb.Point{5, 3}, orb.Point{5, 0}},
		{orb.Point{-4, 0}, orb.Point{0, 0}},
		{orb.Point{12, 7}, orb.Point{10, 7}},
	}
	for _, tt := range tests {
		got := ClosestPointOnLine(ls, tt.p)
		assert.InDelta(t, tt.want[0], got[0], 1e-9)
		assert.InDelta(t, tt.want[1], got[1], 1e-9)
	}
	assert.InDelta(t, 3.0, DistanceToLine(ls, orb.Point{5, 3}), 1e-9)
	assert.Equal(t, orb.Point{1, 1}, ClosestPointOnLine(nil, orb.Point{1, 1}))
}

func TestInteriorPointConcave(t *testing.T) {
	// U 形多边形，质心落在缺口中
	u := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 3}, {3, 3}, {3, 10}, {0, 10}, {0, 0}}}
	ip := InteriorPoint(u)
	assert.True(t, PolygonContains(u, ip), "interior point %v must be inside", ip)

	donut := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {8, 2}, {8, 8}, {2, 8}, {2, 2}},
	}
	assert.True(t, PolygonContains(donut, InteriorPoint(donut)))
}

func TestViewportPixelRoundTrip(t *testing.T) {
	v := Viewport{Center: ToMercator(orb.Point{104, 30}), Zoom: 8, Width: 800, Height: 600}
	m := ToMercator(orb.Point{104.5, 30.2})
	px := v.ToPixel(m)
	back := v.FromPixel(px)
	assert.InDelta(t, m[0], back[0], 1e-6)
	assert.InDelta(t, m[1], back[1], 1e-6)
	assert.Equal(t, orb.Point{400, 300}, v.ToPixel(v.Center))
}

func TestFit(t *testing.T) {
	p := ToMercator(orb.Point{104.0, 30.5})
	c, z := Fit(orb.Bound{Min: p, Max: p}, 800, 600, UniformPadding(20), 3, 14)
	assert.Equal(t, 14.0, z)
	assert.InDelta(t, p[0], c[0], 1e-6)
	assert.InDelta(t, p[1], c[1], 1e-6)

	ext := orb.Bound{Min: ToMercator(orb.Point{100, 25}), Max: ToMercator(orb.Point{110, 35})}
	c, z = Fit(ext, 800, 600, UniformPadding(20), 3, 14)
	assert.Less(t, z, 14.0)
	v := Viewport{Center: c, Zoom: z, Width: 800, Height: 600}
	got := v.Extent()
	assert.True(t, got.Contains(ext.Min) && got.Contains(ext.Max))

	_, z = Fit(ext, 0, 0, UniformPadding(20), 3, 14)
	assert.False(t, math.IsNaN(z))
}
