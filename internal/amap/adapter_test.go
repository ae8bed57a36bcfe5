package amap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapview/internal/config"
	"mapview/internal/feature"
	"mapview/internal/mapview"
)

const (
	timeout = time.Second
	tick    = time.Millisecond
)

var surface = mapview.Rect{Name: "amap", Width: 800, Height: 600}

func mounted(t *testing.T, key string, view mapview.ViewState) (*Adapter, mapview.Handle, *sdkServer) {
	t.Helper()
	srv := newSDKServer(t)
	a := New(config.Credentials{ClientKey: key}, Options{Runtime: NewRuntime(srv.URL, srv.Client())})
	h, err := a.Mount(context.Background(), surface, mapview.MountOptions{View: view})
	require.NoError(t, err)
	return a, h, srv
}

func shapeFor(t *testing.T, f *feature.Feature) mapview.Shape {
	t.Helper()
	shapes := mapview.ShapesFor(f)
	require.Len(t, shapes, 1)
	return shapes[0]
}

func TestMountMissingKey(t *testing.T) {
	a := New(config.Credentials{SecurityToken: "x"}, Options{Runtime: NewRuntime("http://127.0.0.1:0", nil)})
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
	require.ErrorIs(t, err, mapview.ErrMissingCredential)
	var ce *mapview.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, NoticeMissingKey, ce.Notice)
	assert.Nil(t, a.Map())
}

func TestMountLoadFailure(t *testing.T) {
	srv := newSDKServer(t)
	a := New(config.Credentials{ClientKey: "down"}, Options{Runtime: NewRuntime(srv.URL, srv.Client())})
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
	require.ErrorIs(t, err, mapview.ErrProviderLoad)
	var pe *mapview.ProviderLoadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, NoticeLoadFailed, pe.Notice)
	assert.Nil(t, a.Map())
}

func TestMountSetsSecurityConfigOnce(t *testing.T) {
	srv := newSDKServer(t)
	rt := NewRuntime(srv.URL, srv.Client())
	a := New(config.Credentials{ClientKey: "full", SecurityToken: "code"}, Options{Runtime: rt})
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
	require.NoError(t, err)
	b := New(config.Credentials{ClientKey: "full", SecurityToken: "code"}, Options{Runtime: rt})
	_, err = b.Mount(context.Background(), surface, mapview.MountOptions{})
	require.NoError(t, err)

	v, _ := rt.Security().Get(SecurityKey)
	assert.Equal(t, "code", v)
	assert.Equal(t, 1, srv.count())
}

func TestMountCreatesMapAtView(t *testing.T) {
	view := mapview.ViewState{Center: orb.Point{116.39, 39.9}, Zoom: 9}
	a, h, _ := mounted(t, "full", view)
	m := a.Map()
	require.NotNil(t, m)
	assert.Equal(t, []string{"AMap.Scale", "AMap.ToolBar"}, m.Controls())
	assert.Equal(t, "amap", h.Surface().ID())
	got, ok := a.View()
	require.True(t, ok)
	assert.Equal(t, view, got)

	h.Resize(1024, 768)
	w, hh := m.Size()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, hh)
}

func TestCreateOverlayStyles(t *testing.T) {
	a, _, _ := mounted(t, "full", mapview.DefaultViewState())

	pt := feature.New(orb.Point{104, 30}, nil)
	o, err := a.CreateOverlay(shapeFor(t, &pt))
	require.NoError(t, err)
	require.Implements(t, (*mapview.Detacher)(nil), o)
	cm, ok := o.(*pathOverlay).native.(*CircleMarker)
	require.True(t, ok)
	assert.Equal(t, 6.0, cm.Radius)
	assert.Equal(t, "#409EFF", cm.FillColor)

	ln := feature.New(orb.LineString{{0, 0}, {1, 1}}, nil)
	o, err = a.CreateOverlay(shapeFor(t, &ln))
	require.NoError(t, err)
	pl := o.(*pathOverlay).native.(*Polyline)
	assert.Equal(t, 3.0, pl.StrokeWeight)

	pg := feature.New(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, nil)
	o, err = a.CreateOverlay(shapeFor(t, &pg))
	require.NoError(t, err)
	poly := o.(*pathOverlay).native.(*Polygon)
	assert.Equal(t, "#67C23A", poly.FillColor)
	assert.Equal(t, 0.25, poly.FillOpacity)
}

func TestMarkerFallbackOnlyDestroys(t *testing.T) {
	a, _, _ := mounted(t, "lite", mapview.DefaultViewState())
	pt := feature.New(orb.Point{104, 30}, nil)
	o, err := a.CreateOverlay(shapeFor(t, &pt))
	require.NoError(t, err)
	_, detach := o.(mapview.Detacher)
	assert.False(t, detach)
	require.Implements(t, (*mapview.Destroyer)(nil), o)

	require.NoError(t, a.Overlays().ReplaceAll([]mapview.Overlay{o}))
	assert.Len(t, a.Map().GetAllOverlays(), 1)
	a.Overlays().Clear()
	assert.Empty(t, a.Map().GetAllOverlays())
}

func TestClickDispatch(t *testing.T) {
	center := orb.Point{104.0, 30.5}
	a, h, _ := mounted(t, "full", mapview.ViewState{Center: center, Zoom: 12})

	pt := feature.New(center, map[string]any{"name": "p"})
	o, err := a.CreateOverlay(shapeFor(t, &pt))
	require.NoError(t, err)
	require.NoError(t, a.Overlays().ReplaceAll([]mapview.Overlay{o}))

	var hitOverlay mapview.Overlay
	var hitAt orb.Point
	misses := 0
	a.BindClick(func(o mapview.Overlay, at orb.Point) { hitOverlay, hitAt = o, at }, func() { misses++ })

	h.Click(orb.Point{402, 299})
	require.NotNil(t, hitOverlay)
	assert.Same(t, o, hitOverlay)
	assert.Same(t, &pt, hitOverlay.Feature())
	assert.Equal(t, center, hitAt)

	require.True(t, a.Popup().Show("hello", center))
	h.Click(orb.Point{10, 10})
	assert.Equal(t, 1, misses)
	assert.False(t, a.Popup().Visible())
}

func TestLineClickUsesEventCoordinate(t *testing.T) {
	center := orb.Point{104.0, 30.5}
	a, h, _ := mounted(t, "full", mapview.ViewState{Center: center, Zoom: 10})
	ln := feature.New(orb.LineString{{103.5, 30.5}, {104.5, 30.5}}, nil)
	o, err := a.CreateOverlay(shapeFor(t, &ln))
	require.NoError(t, err)
	require.NoError(t, a.Overlays().ReplaceAll([]mapview.Overlay{o}))

	var at orb.Point
	a.BindClick(func(_ mapview.Overlay, p orb.Point) { at = p }, nil)
	h.Click(orb.Point{400, 300})
	assert.InDelta(t, 104.0, at[0], 1e-9)
	assert.InDelta(t, 30.5, at[1], 1e-9)
}

func TestFitSinglePoint(t *testing.T) {
	a, _, _ := mounted(t, "full", mapview.DefaultViewState())
	var seen []mapview.ViewState
	a.BindCameraChange(func(v mapview.ViewState) { seen = append(seen, v) })

	pt := feature.New(orb.Point{104.0, 30.5}, nil)
	o, err := a.CreateOverlay(shapeFor(t, &pt))
	require.NoError(t, err)
	require.NoError(t, a.Overlays().ReplaceAll([]mapview.Overlay{o}))
	a.Fit([]mapview.Overlay{o}, mapview.DefaultFitOptions)

	v, ok := a.View()
	require.True(t, ok)
	assert.InDelta(t, 104.0, v.Center[0], 1e-9)
	assert.InDelta(t, 30.5, v.Center[1], 1e-9)
	assert.Equal(t, 14.0, v.Zoom)
	assert.True(t, a.Map().FitAnimated())
	require.NotEmpty(t, seen)
	assert.Equal(t, v, seen[len(seen)-1])
}

func TestCorrectOffsetRoundTrip(t *testing.T) {
	srv := newSDKServer(t)
	a := New(config.Credentials{ClientKey: "full"}, Options{Runtime: NewRuntime(srv.URL, srv.Client()), CorrectOffset: true})
	view := mapview.ViewState{Center: orb.Point{104.0668, 30.5728}, Zoom: 8}
	_, err := a.Mount(context.Background(), surface, mapview.MountOptions{View: view})
	require.NoError(t, err)

	native := a.Map().GetCenter()
	assert.NotEqual(t, view.Center, native)
	got, _ := a.View()
	assert.InDelta(t, view.Center[0], got.Center[0], 1e-9)
	assert.InDelta(t, view.Center[1], got.Center[1], 1e-9)
}

func TestTeardownIsIdempotent(t *testing.T) {
	a, h, _ := mounted(t, "full", mapview.DefaultViewState())
	m := a.Map()
	a.BindCameraChange(func(mapview.ViewState) {})
	a.BindClick(func(mapview.Overlay, orb.Point) {}, func() {})
	pt := feature.New(orb.Point{104, 30}, nil)
	o, err := a.CreateOverlay(shapeFor(t, &pt))
	require.NoError(t, err)
	require.NoError(t, a.Overlays().ReplaceAll([]mapview.Overlay{o}))
	require.True(t, a.Popup().Show("x", orb.Point{104, 30}))
	native := o.(*pathOverlay).native.(*CircleMarker)

	assert.Equal(t, 1, m.ListenerCount("moveend"))
	require.NotPanics(t, func() {
		a.Teardown()
		a.Teardown()
	})
	assert.True(t, m.Destroyed())
	assert.Equal(t, 0, m.ListenerCount("moveend"))
	assert.Equal(t, 0, m.ListenerCount("click"))
	assert.Equal(t, 0, native.ListenerCount("click"))
	assert.Nil(t, a.Map())
	assert.Equal(t, 0, a.Overlays().Len())
	assert.False(t, a.Popup().Show("y", orb.Point{}))
	_, ok := a.View()
	assert.False(t, ok)
	require.NotPanics(t, func() { h.Click(orb.Point{1, 1}) })
}

func TestTeardownDuringLoad(t *testing.T) {
	srv := newSDKServer(t)
	srv.block = make(chan struct{})
	a := New(config.Credentials{ClientKey: "full"}, Options{Runtime: NewRuntime(srv.URL, srv.Client())})

	done := make(chan error, 1)
	go func() {
		_, err := a.Mount(context.Background(), surface, mapview.MountOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return srv.count() == 1 }, timeout, tick)
	a.Teardown()
	close(srv.block)
	err := <-done
	assert.True(t, errors.Is(err, mapview.ErrTornDown))
	assert.Nil(t, a.Map())
}
