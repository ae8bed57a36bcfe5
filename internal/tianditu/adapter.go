package tianditu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"mapview/internal/config"
	"mapview/internal/feature"
	"mapview/internal/geo"
	"mapview/internal/logger"
	"mapview/internal/mapview"
)

const (
	BaseMapVector = "tiandituVector"
	BaseMapImage  = "tiandituImage"

	NoticeMissingKey = "未配置天地图 Key，无法加载天地图底图"

	vectorZIndex = 200

	// propOverlay 原生要素上挂接 mapview 覆盖物的属性名
	propOverlay = "overlay"
)

var (
	pointStyle   = Style{Radius: 6, FillColor: "#409EFF", StrokeColor: "#ffffff", StrokeWidth: 2}
	polygonStyle = Style{FillColor: "rgba(103, 194, 58, 0.25)", StrokeColor: "#67C23A", StrokeWidth: 2}

	popupOffset = Pixel{0, -12}
)

func styleOf(f *Feature) Style {
	if _, ok := f.GetGeometry().(orb.Point); ok {
		return pointStyle
	}
	return polygonStyle
}

// Provider：注册表条目，矢量与影像两种底图
func Provider() mapview.Provider {
	return mapview.Provider{
		Variant:   mapview.VariantTianditu,
		New:       func(c config.Credentials) mapview.Adapter { return New(c) },
		Available: config.Credentials.HasTileServiceKey,
		BaseMaps: []mapview.BaseMap{
			{Value: BaseMapVector, Label: "天地图 矢量", Style: StyleVector},
			{Value: BaseMapImage, Label: "天地图 影像", Style: StyleImage},
		},
	}
}

// 文档注释：天地图适配器
// 背景：一张地图上叠放底图、注记与矢量三层；切换样式只替换底图与注记两层，矢量图层及其绑定保持不变。
// 约束：
// - mu 只保护地图、图层与监听凭据，调用视图方法（会同步触发 change 事件）时不持有 mu；
// - 单个 singleclick 监听负责命中与未命中两种分派。
type Adapter struct {
	creds config.Credentials
	log   *slog.Logger

	mu       sync.Mutex
	m        *Map
	source   *VectorSource
	vector   *VectorLayer
	base     *TileLayer
	label    *TileLayer
	popupOv  *Overlay
	style    string
	surface  mapview.Surface
	closed   bool
	viewKeys []EventKey
	clickKey EventKey
	onHit    func(mapview.Overlay, orb.Point)
	onMiss   func()
	overlays *mapview.OverlayManager
	popup    *mapview.PopupController
}

func New(creds config.Credentials) *Adapter {
	a := &Adapter{creds: creds, log: logger.For("tianditu")}
	a.popup = mapview.NewPopupController(a.newPopup)
	a.overlays = mapview.NewOverlayManager(a.AddOverlays, a.popup)
	return a
}

func (a *Adapter) Variant() mapview.Variant { return mapview.VariantTianditu }

// 文档注释：挂载
// 背景：首次挂载创建视图、矢量图层与弹窗覆盖物；再次挂载复用地图实例，切换容器并补挂缺失的弹窗，样式变化时替换底图图层。
func (a *Adapter) Mount(ctx context.Context, s mapview.Surface, opts mapview.MountOptions) (mapview.Handle, error) {
	if !a.creds.HasTileServiceKey() {
		return nil, &mapview.ConfigurationError{Variant: mapview.VariantTianditu, Credential: "tdt_key", Notice: NoticeMissingKey}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	style := opts.Style
	if style == "" {
		style = StyleVector
	}
	ids, ok := LayersFor(style)
	if !ok {
		return nil, fmt.Errorf("tianditu style %q: %w", style, mapview.ErrUnknownBaseMap)
	}
	view := opts.View.OrDefault()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, mapview.ErrTornDown
	}
	if a.m == nil {
		w, h := s.Size()
		a.source = NewVectorSource()
		a.vector = NewVectorLayer(a.source, styleOf, vectorZIndex)
		a.m = NewMap(MapOptions{
			Target: s.ID(),
			Width:  w,
			Height: h,
			View:   NewView(geo.ToMercator(view.Center), view.Zoom, MinZoom, MaxZoom),
		})
		a.popupOv = NewOverlay(popupOffset, "bottom-center")
		a.m.AddOverlay(a.popupOv)
		a.log.Debug("tianditu_map_created", "target", s.ID(), "width", w, "height", h, "zoom", view.Zoom)
	} else if a.m.GetTarget() != s.ID() {
		a.m.SetTarget(s.ID())
	}
	if a.popupOv == nil {
		a.popupOv = NewOverlay(popupOffset, "bottom-center")
	}
	a.m.AddOverlay(a.popupOv)
	if a.style != style {
		a.swapLayersLocked(style, ids)
	}
	a.m.AddLayer(a.vector)
	a.surface = s
	m := a.m
	a.mu.Unlock()

	setView(m.GetView(), view)
	return &handle{a: a, s: s}, nil
}

func setView(v *View, s mapview.ViewState) {
	v.SetCenter(geo.ToMercator(s.Center))
	v.SetZoom(s.Zoom)
}

func (a *Adapter) swapLayersLocked(style string, ids LayerIDs) {
	if a.base != nil {
		a.m.RemoveLayer(a.base)
	}
	if a.label != nil {
		a.m.RemoveLayer(a.label)
	}
	a.base = newTileLayer(ids.Base, a.creds.TileServiceKey, baseZIndex)
	a.label = newTileLayer(ids.Label, a.creds.TileServiceKey, labelZIndex)
	a.m.AddLayer(a.base)
	a.m.AddLayer(a.label)
	a.style = style
	a.log.Debug("tianditu_layers_set", "style", style, "base", ids.Base, "label", ids.Label)
}

// Restyle：只替换底图与注记图层
func (a *Adapter) Restyle(style string) error {
	ids, ok := LayersFor(style)
	if !ok {
		return fmt.Errorf("tianditu style %q: %w", style, mapview.ErrUnknownBaseMap)
	}
	if style == "" {
		style = StyleVector
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil {
		return mapview.ErrNotMounted
	}
	if a.style != style {
		a.swapLayersLocked(style, ids)
	}
	return nil
}

// Style：当前底图样式
func (a *Adapter) Style() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.style
}

// Map：原生地图实例，未挂载时为 nil
func (a *Adapter) Map() *Map {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m
}

// Layers：底图、注记与矢量图层，未挂载时为 nil
func (a *Adapter) Layers() (base, label *TileLayer, vector *VectorLayer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base, a.label, a.vector
}

// VisibleTiles：当前视口下底图与注记图层的瓦片
func (a *Adapter) VisibleTiles() []Tile {
	a.mu.Lock()
	m, base, label := a.m, a.base, a.label
	a.mu.Unlock()
	if m == nil {
		return nil
	}
	vp := m.Viewport()
	var out []Tile
	for _, l := range []*TileLayer{base, label} {
		if l != nil {
			out = append(out, l.VisibleTiles(vp)...)
		}
	}
	return out
}

func (a *Adapter) CreateOverlay(s mapview.Shape) (mapview.Overlay, error) {
	a.mu.Lock()
	src := a.source
	a.mu.Unlock()
	if src == nil {
		return nil, mapview.ErrNotMounted
	}
	var g orb.Geometry
	switch v := s.Geometry.(type) {
	case orb.Point:
		if !geo.Finite(v[0], v[1]) {
			return nil, errors.New("tianditu: non-finite point")
		}
		g = geo.ToMercator(v)
	case orb.LineString:
		g = toMercatorLine(v)
	case orb.Polygon:
		poly := make(orb.Polygon, len(v))
		for i, r := range v {
			poly[i] = orb.Ring(toMercatorLine(orb.LineString(r)))
		}
		g = poly
	default:
		return nil, errors.New("tianditu: unsupported shape")
	}
	o := &overlay{shape: s, native: NewFeature(g), src: src}
	o.native.Set(propOverlay, o)
	return o, nil
}

func toMercatorLine(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = geo.ToMercator(p)
	}
	return out
}

func (a *Adapter) AddOverlays(ovs []mapview.Overlay) error {
	a.mu.Lock()
	src := a.source
	a.mu.Unlock()
	if src == nil {
		return mapview.ErrNotMounted
	}
	fs := make([]*Feature, 0, len(ovs))
	for _, o := range ovs {
		if v, ok := o.(*overlay); ok {
			fs = append(fs, v.native)
		}
	}
	src.AddFeatures(fs...)
	return nil
}

func (a *Adapter) Fit(ovs []mapview.Overlay, opts mapview.FitOptions) {
	m := a.Map()
	if m == nil || len(ovs) == 0 {
		return
	}
	opts = mapview.ClampFit(opts)
	var ext orb.Bound
	n := 0
	for _, o := range ovs {
		v, ok := o.(*overlay)
		if !ok {
			continue
		}
		b := v.native.GetGeometry().Bound()
		if n == 0 {
			ext = b
		} else {
			ext = ext.Union(b)
		}
		n++
	}
	if n == 0 {
		return
	}
	w, h := m.GetSize()
	m.GetView().Fit(ext, w, h, FitOptions{
		Padding:  geo.UniformPadding(opts.Padding),
		MaxZoom:  opts.MaxZoom,
		Duration: opts.Duration,
	})
}

func (a *Adapter) View() (mapview.ViewState, bool) {
	m := a.Map()
	if m == nil {
		return mapview.ViewState{}, false
	}
	v := m.GetView()
	return mapview.ViewState{Center: geo.ToWGS84(v.GetCenter()), Zoom: v.GetZoom()}, true
}

func (a *Adapter) SetView(v mapview.ViewState) {
	m := a.Map()
	if m == nil {
		return
	}
	setView(m.GetView(), v.OrDefault())
}

// BindCameraChange：监听 change:center 与 change:resolution，重复绑定时先解绑旧监听
func (a *Adapter) BindCameraChange(fn func(mapview.ViewState)) {
	a.UnbindCameraChange()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil || fn == nil {
		return
	}
	v := a.m.GetView()
	cb := func(Event) {
		fn(mapview.ViewState{Center: geo.ToWGS84(v.GetCenter()), Zoom: v.GetZoom()})
	}
	a.viewKeys = []EventKey{
		v.On("change:center", cb),
		v.On("change:resolution", cb),
	}
}

func (a *Adapter) UnbindCameraChange() {
	a.mu.Lock()
	keys := a.viewKeys
	a.viewKeys = nil
	a.mu.Unlock()
	UnByKey(keys...)
}

// BindClick：单个 singleclick 监听；命中取最上层要素，未命中先隐藏弹窗
func (a *Adapter) BindClick(onHit func(mapview.Overlay, orb.Point), onMiss func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onHit, a.onMiss = onHit, onMiss
	if a.m == nil || a.clickKey.Valid() {
		return
	}
	m := a.m
	a.clickKey = m.On("singleclick", func(e Event) { a.handleClick(m, e) })
}

func (a *Adapter) handleClick(m *Map, e Event) {
	var hit *overlay
	m.ForEachFeatureAtPixel(e.Pixel, func(f *Feature, _ *VectorLayer) bool {
		o, ok := f.Get(propOverlay).(*overlay)
		if ok {
			hit = o
		}
		return ok
	})
	a.mu.Lock()
	onHit, onMiss := a.onHit, a.onMiss
	a.mu.Unlock()
	if hit == nil {
		a.popup.Hide()
		if onMiss != nil {
			onMiss()
		}
		return
	}
	if onHit != nil {
		near := geo.ToWGS84(e.Coordinate)
		onHit(hit, mapview.ClickPoint(hit.shape, nil, near))
	}
}

func (a *Adapter) Overlays() *mapview.OverlayManager { return a.overlays }
func (a *Adapter) Popup() *mapview.PopupController   { return a.popup }

func (a *Adapter) newPopup() mapview.PopupHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil || a.closed {
		return nil
	}
	if a.popupOv == nil {
		a.popupOv = NewOverlay(popupOffset, "bottom-center")
	}
	a.m.AddOverlay(a.popupOv)
	return &popupHandle{a: a, ov: a.popupOv}
}

// 文档注释：释放
// 背景：依次解绑视图监听、解绑点击监听、移除弹窗、清空矢量要素、地图脱离容器并释放。
// 约束：幂等；每一步独立尽力执行。
func (a *Adapter) Teardown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.step("unbind_camera", a.UnbindCameraChange)
	a.step("unbind_click", func() {
		a.mu.Lock()
		k := a.clickKey
		a.clickKey = EventKey{}
		a.onHit, a.onMiss = nil, nil
		a.mu.Unlock()
		UnByKey(k)
	})
	a.step("release_popup", a.popup.Release)
	a.step("clear_overlays", a.overlays.Clear)
	a.step("dispose_map", func() {
		a.mu.Lock()
		m, src := a.m, a.source
		a.m, a.source, a.vector, a.base, a.label, a.popupOv = nil, nil, nil, nil, nil, nil
		a.style = ""
		a.mu.Unlock()
		if src != nil {
			src.Clear()
		}
		if m != nil {
			m.SetTarget("")
			m.Dispose()
		}
	})
	a.log.Debug("tianditu_teardown_done")
}

func (a *Adapter) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("tianditu_teardown_step_panic", "step", name, "panic", r)
		}
	}()
	fn()
}

type handle struct {
	a *Adapter
	s mapview.Surface
}

func (h *handle) Surface() mapview.Surface { return h.s }

func (h *handle) Resize(width, height int) {
	if m := h.a.Map(); m != nil {
		m.SetSize(width, height)
	}
}

func (h *handle) Click(px orb.Point) {
	if m := h.a.Map(); m != nil {
		m.Click(px)
	}
}

// overlay：矢量要素，摘除即从数据源移除
type overlay struct {
	shape  mapview.Shape
	native *Feature
	src    *VectorSource
}

func (o *overlay) Feature() *feature.Feature { return o.shape.Feature }
func (o *overlay) Kind() mapview.ShapeKind   { return o.shape.Kind }
func (o *overlay) Bound() orb.Bound          { return o.shape.Bound() }

func (o *overlay) Detach() { o.src.RemoveFeature(o.native) }

type popupHandle struct {
	a  *Adapter
	ov *Overlay
}

func (p *popupHandle) SetContent(content string) { p.ov.SetElement(content) }

func (p *popupHandle) Open(anchor orb.Point) {
	c := geo.ToMercator(anchor)
	p.ov.SetPosition(&c)
}

func (p *popupHandle) Close() { p.ov.SetPosition(nil) }

func (p *popupHandle) Release() {
	p.ov.SetPosition(nil)
	p.a.mu.Lock()
	m := p.a.m
	if p.a.popupOv == p.ov {
		p.a.popupOv = nil
	}
	p.a.mu.Unlock()
	if m != nil {
		m.RemoveOverlay(p.ov)
	}
}
