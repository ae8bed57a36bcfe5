package mapview

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapview/internal/feature"
)

func rawFeature(typ, coords string) feature.Feature {
	f := feature.Feature{Properties: map[string]any{}}
	if typ != "" || coords != "" {
		f.Geometry = &feature.Geometry{Type: typ}
		if coords != "" {
			f.Geometry.Coordinates = json.RawMessage(coords)
		}
	}
	return f
}

func TestShapesFor(t *testing.T) {
	tests := []struct {
		name  string
		f     feature.Feature
		kinds []ShapeKind
	}{
		{"point", rawFeature("Point", `[104.0, 30.5]`), []ShapeKind{ShapeMarker}},
		{"multipoint", rawFeature("MultiPoint", `[[1,1],[2,2],[3,3]]`), []ShapeKind{ShapeMarker, ShapeMarker, ShapeMarker}},
		{"linestring", rawFeature("LineString", `[[0,0],[1,1],[2,0]]`), []ShapeKind{ShapePolyline}},
		{"multilinestring", rawFeature("MultiLineString", `[[[0,0],[1,1]],[[2,2],[3,3]]]`), []ShapeKind{ShapePolyline, ShapePolyline}},
		{"polygon with hole", rawFeature("Polygon", `[[[0,0],[10,0],[10,10],[0,10],[0,0]],[[2,2],[4,2],[4,4],[2,2]]]`), []ShapeKind{ShapePolygon}},
		{"multipolygon", rawFeature("MultiPolygon", `[[[[0,0],[1,0],[1,1],[0,0]]],[[[5,5],[6,5],[6,6],[5,5]]]]`), []ShapeKind{ShapePolygon, ShapePolygon}},
		{"unknown type", rawFeature("Unknown", `[1,2]`), nil},
		{"missing coordinates", rawFeature("Point", ""), nil},
		{"missing geometry", rawFeature("", ""), nil},
		{"malformed", rawFeature("LineString", `{"a":1}`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			var shapes []Shape
			require.NotPanics(t, func() { shapes = ShapesFor(&f) })
			require.Len(t, shapes, len(tt.kinds))
			for i, s := range shapes {
				assert.Equal(t, tt.kinds[i], s.Kind)
				assert.Same(t, &f, s.Feature)
				assert.Equal(t, i, s.Part)
			}
		})
	}
	assert.Nil(t, ShapesFor(nil))
}

func TestShapesForPolygonKeepsHoles(t *testing.T) {
	f := rawFeature("Polygon", `[[[0,0],[10,0],[10,10],[0,10],[0,0]],[[2,2],[4,2],[4,4],[2,2]]]`)
	shapes := ShapesFor(&f)
	require.Len(t, shapes, 1)
	poly, ok := shapes[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2)
}

func TestClickPoint(t *testing.T) {
	native := orb.Point{5, 5}

	pt := Shape{Kind: ShapeMarker, Geometry: orb.Point{1, 2}}
	assert.Equal(t, orb.Point{1, 2}, ClickPoint(pt, &native, orb.Point{9, 9}))

	line := Shape{Kind: ShapePolyline, Geometry: orb.LineString{{0, 0}, {10, 0}}}
	assert.Equal(t, native, ClickPoint(line, &native, orb.Point{}))
	assert.Equal(t, orb.Point{3, 0}, ClickPoint(line, nil, orb.Point{3, 4}))

	square := orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}}
	poly := Shape{Kind: ShapePolygon, Geometry: square}
	assert.Equal(t, native, ClickPoint(poly, &native, orb.Point{}))
	assert.Equal(t, orb.Point{2, 2}, ClickPoint(poly, nil, orb.Point{100, 100}))
}
