package tianditu

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapview/internal/config"
	"mapview/internal/feature"
	"mapview/internal/geo"
	"mapview/internal/mapview"
)

var surface = mapview.Rect{Name: "tdt", Width: 800, Height: 600}

func mounted(t *testing.T, style string, view mapview.ViewState) (*Adapter, mapview.Handle) {
	t.Helper()
	a := New(config.Credentials{TileServiceKey: "tk"})
	h, err := a.Mount(context.Background(), surface, mapview.MountOptions{View: view, Style: style})
	require.NoError(t, err)
	t.Cleanup(a.Teardown)
	return a, h
}

func overlaysFor(t *testing.T, a *Adapter, fs ...*feature.Feature) []mapview.Overlay {
	t.Helper()
	var out []mapview.Overlay
	for _, f := range fs {
		for _, s := range mapview.ShapesFor(f) {
			o, err := a.CreateOverlay(s)
			require.NoError(t, err)
			out = append(out, o)
		}
	}
	require.NoError(t, a.Overlays().ReplaceAll(out))
	return out
}

func layerIDs(m *Map) []string {
	var ids []string
	for _, l := range m.GetLayers() {
		switch v := l.(type) {
		case *TileLayer:
			ids = append(ids, v.ID)
		case *VectorLayer:
			ids = append(ids, "vector")
		}
	}
	return ids
}

func TestMountMissingKey(t *testing.T) {
	a := New(config.Credentials{ClientKey: "amap-only"})
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
	require.ErrorIs(t, err, mapview.ErrMissingCredential)
	var ce *mapview.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, NoticeMissingKey, ce.Notice)
	assert.Equal(t, mapview.VariantTianditu, ce.Variant)
	assert.Nil(t, a.Map())
}

func TestMountUnknownStyle(t *testing.T) {
	a := New(config.Credentials{TileServiceKey: "tk"})
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{Style: "terrain"})
	require.ErrorIs(t, err, mapview.ErrUnknownBaseMap)
	assert.Nil(t, a.Map())
}

func TestMountBuildsLayerStack(t *testing.T) {
	view := mapview.ViewState{Center: orb.Point{116.4, 39.9}, Zoom: 9}
	a, h := mounted(t, StyleImage, view)
	m := a.Map()
	require.NotNil(t, m)
	assert.Equal(t, "tdt", m.GetTarget())
	assert.Equal(t, []string{"img", "cia", "vector"}, layerIDs(m))

	base, label, _ := a.Layers()
	assert.Equal(t, baseZIndex, base.ZIndex())
	assert.Equal(t, labelZIndex, label.ZIndex())
	assert.Equal(t, "tk", base.Key)

	got, ok := a.View()
	require.True(t, ok)
	assert.True(t, got.Near(view, 1e-9))

	ovs := m.GetOverlays()
	require.Len(t, ovs, 1)
	assert.Equal(t, popupOffset, ovs[0].Offset)
	assert.Equal(t, "bottom-center", ovs[0].Positioning)

	h.Resize(1024, 768)
	w, hh := m.GetSize()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, hh)
}

func TestViewZoomLimits(t *testing.T) {
	a, _ := mounted(t, StyleVector, mapview.ViewState{Center: orb.Point{104, 30}, Zoom: 1})
	v, _ := a.View()
	assert.Equal(t, MinZoom, v.Zoom)
	a.SetView(mapview.ViewState{Center: orb.Point{104, 30}, Zoom: 22})
	v, _ = a.View()
	assert.Equal(t, MaxZoom, v.Zoom)
}

func TestRestyleKeepsVectorLayer(t *testing.T) {
	a, _ := mounted(t, StyleVector, mapview.DefaultViewState())
	var views []mapview.ViewState
	a.BindCameraChange(func(v mapview.ViewState) { views = append(views, v) })
	a.BindClick(func(mapview.Overlay, orb.Point) {}, func() {})
	f := feature.New(orb.Point{104, 30.5}, nil)
	overlaysFor(t, a, &f)

	m := a.Map()
	_, _, vector := a.Layers()
	require.NoError(t, a.Restyle(StyleImage))

	assert.Same(t, m, a.Map())
	assert.Equal(t, []string{"img", "cia", "vector"}, layerIDs(m))
	_, _, after := a.Layers()
	assert.Same(t, vector, after)
	assert.Len(t, vector.Source.GetFeatures(), 1)
	assert.Equal(t, 1, a.Overlays().Len())
	assert.Equal(t, 1, m.GetView().ListenerCount("change:center"))
	assert.Equal(t, 1, m.ListenerCount("singleclick"))
	assert.Equal(t, StyleImage, a.Style())

	require.NoError(t, a.Restyle(StyleImage))
	assert.Len(t, m.GetLayers(), 3)
	assert.ErrorIs(t, a.Restyle("terrain"), mapview.ErrUnknownBaseMap)
}

func TestRestyleBeforeMount(t *testing.T) {
	a := New(config.Credentials{TileServiceKey: "tk"})
	assert.ErrorIs(t, a.Restyle(StyleImage), mapview.ErrNotMounted)
}

func TestClickDispatch(t *testing.T) {
	center := orb.Point{104, 30.5}
	a, h := mounted(t, StyleVector, mapview.ViewState{Center: center, Zoom: 10})

	area := feature.New(orb.Polygon{{{103.9, 30.4}, {104.1, 30.4}, {104.1, 30.6}, {103.9, 30.6}, {103.9, 30.4}}}, map[string]any{"name": "area"})
	pt := feature.New(center, map[string]any{"name": "pt"})
	overlaysFor(t, a, &area, &pt)

	var gotF *feature.Feature
	var gotAt orb.Point
	misses := 0
	a.BindClick(func(o mapview.Overlay, at orb.Point) {
		gotF, gotAt = o.Feature(), at
	}, func() { misses++ })

	// 点在面之上，后加入者优先
	h.Click(orb.Point{401, 300})
	assert.Same(t, &pt, gotF)
	assert.InDelta(t, center[0], gotAt[0], 1e-9)
	assert.InDelta(t, center[1], gotAt[1], 1e-9)

	// 面内远离点的位置，坐标取内部点
	h.Click(orb.Point{440, 330})
	assert.Same(t, &area, gotF)
	shape := mapview.ShapesFor(&area)[0]
	assert.Equal(t, geo.InteriorPoint(shape.Geometry.(orb.Polygon)), gotAt)

	require.True(t, a.Popup().Show("<b>x</b>", center))
	h.Click(orb.Point{5, 5})
	assert.Equal(t, 1, misses)
	assert.False(t, a.Popup().Visible())
	_, open := a.Map().GetOverlays()[0].GetPosition()
	assert.False(t, open)
}

func TestLineClickResolvesClosestPoint(t *testing.T) {
	a, h := mounted(t, StyleVector, mapview.ViewState{Center: orb.Point{104, 30.5}, Zoom: 12})
	line := feature.New(orb.LineString{{103.9, 30.5}, {104.1, 30.5}}, nil)
	overlaysFor(t, a, &line)

	var at orb.Point
	hits := 0
	a.BindClick(func(_ mapview.Overlay, p orb.Point) { hits++; at = p }, nil)
	h.Click(orb.Point{400, 302})
	require.Equal(t, 1, hits)
	assert.InDelta(t, 30.5, at[1], 1e-9)
	assert.InDelta(t, 104, at[0], 1e-3)

	h.Click(orb.Point{400, 330})
	assert.Equal(t, 1, hits)
}

func TestFitSinglePoint(t *testing.T) {
	a, _ := mounted(t, StyleVector, mapview.DefaultViewState())
	var seen []mapview.ViewState
	a.BindCameraChange(func(v mapview.ViewState) { seen = append(seen, v) })
	p := orb.Point{104.0, 30.5}
	f := feature.New(p, nil)
	ovs := overlaysFor(t, a, &f)

	a.Fit(ovs, mapview.FitOptions{Padding: 20, MaxZoom: 14, Duration: time.Second})
	v, ok := a.View()
	require.True(t, ok)
	assert.Equal(t, 14.0, v.Zoom)
	assert.InDelta(t, p[0], v.Center[0], 1e-9)
	assert.InDelta(t, p[1], v.Center[1], 1e-9)
	assert.Equal(t, mapview.MaxFitDuration, a.Map().GetView().LastFitDuration())
	require.NotEmpty(t, seen)
	assert.Equal(t, v, seen[len(seen)-1])
}

func TestOverlayDetachRemovesFeature(t *testing.T) {
	a, _ := mounted(t, StyleVector, mapview.DefaultViewState())
	f := feature.New(orb.MultiPoint{{104, 30}, {105, 31}, {106, 32}}, nil)
	ovs := overlaysFor(t, a, &f)
	require.Len(t, ovs, 3)
	_, _, vector := a.Layers()
	assert.Len(t, vector.Source.GetFeatures(), 3)

	require.NoError(t, a.Overlays().ReplaceAll(nil))
	assert.Empty(t, vector.Source.GetFeatures())
	_, ok := vector.Source.GetExtent()
	assert.False(t, ok)
}

func TestVisibleTilesCoverBothLayers(t *testing.T) {
	a, _ := mounted(t, StyleVector, mapview.ViewState{Center: orb.Point{104, 30.5}, Zoom: 6})
	tiles := a.VisibleTiles()
	require.NotEmpty(t, tiles)
	layers := map[string]int{}
	for _, tl := range tiles {
		layers[tl.Layer]++
		assert.Contains(t, tl.URL, "tk=tk")
	}
	assert.Equal(t, layers["vec"], layers["cva"])
	assert.Len(t, layers, 2)
}

func TestTeardownIsIdempotent(t *testing.T) {
	a := New(config.Credentials{TileServiceKey: "tk"})
	h, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
	require.NoError(t, err)
	a.BindCameraChange(func(mapview.ViewState) {})
	a.BindClick(func(mapview.Overlay, orb.Point) {}, nil)
	f := feature.New(orb.Point{104, 30}, nil)
	overlaysFor(t, a, &f)
	m := a.Map()
	view := m.GetView()

	a.Teardown()
	a.Teardown()
	assert.Nil(t, a.Map())
	assert.True(t, m.Disposed())
	assert.Equal(t, "", m.GetTarget())
	assert.Equal(t, 0, view.ListenerCount("change:center"))
	assert.Equal(t, 0, view.ListenerCount("change:resolution"))
	assert.Equal(t, 0, a.Overlays().Len())
	assert.False(t, a.Popup().Show("x", orb.Point{104, 30}))
	assert.Nil(t, a.VisibleTiles())
	h.Click(orb.Point{400, 300})

	_, err = a.Mount(context.Background(), surface, mapview.MountOptions{})
	assert.ErrorIs(t, err, mapview.ErrTornDown)
}
