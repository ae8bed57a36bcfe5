package amap

import (
	"context"
	"errors"
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
	// BaseMapVector 高德矢量底图选项值
	BaseMapVector = "amapVector"

	NoticeMissingKey = "未配置高德地图 Key，无法加载高德底图"
	NoticeLoadFailed = "高德底图加载失败，请检查网络或密钥配置"

	markerRadius = 6
)

var (
	markerStyle  = PathStyle{StrokeColor: "#ffffff", StrokeWeight: 2, FillColor: "#409EFF", FillOpacity: 0.9}
	lineStyle    = PathStyle{StrokeColor: "#409EFF", StrokeWeight: 3, StrokeOpacity: 0.9}
	polygonStyle = PathStyle{StrokeColor: "#67C23A", StrokeWeight: 2, StrokeOpacity: 0.8, FillColor: "#67C23A", FillOpacity: 0.25}

	infoWindowOffset = Pixel{0, -20}
	markerOffset     = Pixel{-6, -6}
)

// Options：适配器参数
type Options struct {
	// Runtime 为空时使用 DefaultRuntime
	Runtime *Runtime
	// Plugins 为空时使用 DefaultPlugins
	Plugins []string
	// CorrectOffset 为真时要素与视图状态按 WGS-84 处理，地图内部使用 GCJ-02
	CorrectOffset bool
}

// Provider：注册表条目
func Provider(opts Options) mapview.Provider {
	return mapview.Provider{
		Variant:   mapview.VariantAMap,
		New:       func(c config.Credentials) mapview.Adapter { return New(c, opts) },
		Available: config.Credentials.HasClientKey,
		BaseMaps:  []mapview.BaseMap{{Value: BaseMapVector, Label: "高德矢量", Style: "normal"}},
	}
}

// 文档注释：高德底图适配器
// 背景：一个适配器对应一个地图实例、一个覆盖物管理器和一个信息窗体。
// 约束：
// - mu 只保护地图实例与监听 ID，调用地图方法（会同步触发事件）时不持有 mu；
// - 加载完成时适配器已被 Teardown 则放弃挂载，返回 ErrTornDown。
type Adapter struct {
	creds config.Credentials
	opts  Options
	log   *slog.Logger

	mu       sync.Mutex
	mod      *Module
	m        *Map
	info     *InfoWindow
	surface  mapview.Surface
	closed   bool
	camIDs   map[string]int
	clickID  int
	onHit    func(mapview.Overlay, orb.Point)
	onMiss   func()
	overlays *mapview.OverlayManager
	popup    *mapview.PopupController
}

func New(creds config.Credentials, opts Options) *Adapter {
	a := &Adapter{creds: creds, opts: opts, log: logger.For("amap")}
	a.popup = mapview.NewPopupController(a.newPopup)
	a.overlays = mapview.NewOverlayManager(a.AddOverlays, a.popup)
	return a
}

func (a *Adapter) Variant() mapview.Variant { return mapview.VariantAMap }

func (a *Adapter) runtime() *Runtime {
	if a.opts.Runtime != nil {
		return a.opts.Runtime
	}
	return DefaultRuntime()
}

func (a *Adapter) toNative(p orb.Point) orb.Point {
	if a.opts.CorrectOffset {
		return geo.ToGCJ02(p)
	}
	return p
}

func (a *Adapter) fromNative(p orb.Point) orb.Point {
	if a.opts.CorrectOffset {
		return geo.FromGCJ02(p)
	}
	return p
}

// 文档注释：挂载
// 背景：安全密钥在首次加载前写入进程级安全配置；SDK 由运行时记忆化加载；随后按视图状态创建地图并添加比例尺与工具条控件。
func (a *Adapter) Mount(ctx context.Context, s mapview.Surface, opts mapview.MountOptions) (mapview.Handle, error) {
	if !a.creds.HasClientKey() {
		return nil, &mapview.ConfigurationError{Variant: mapview.VariantAMap, Credential: "amap_key", Notice: NoticeMissingKey}
	}
	rt := a.runtime()
	if a.creds.SecurityToken != "" {
		if rt.Security().Set(SecurityKey, a.creds.SecurityToken) {
			a.log.Debug("amap_security_config_set")
		}
	}
	mod, err := rt.Load(ctx, a.creds.ClientKey, a.opts.Plugins)
	if err != nil {
		return nil, &mapview.ProviderLoadError{Variant: mapview.VariantAMap, Err: err, Notice: NoticeLoadFailed}
	}
	view := opts.View.OrDefault()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, mapview.ErrTornDown
	}
	if a.m != nil {
		m := a.m
		a.mu.Unlock()
		m.SetZoomAndCenter(view.Zoom, a.toNative(view.Center))
		return &handle{a: a, s: s}, nil
	}
	w, h := s.Size()
	m := NewMap(s.ID(), w, h, MapOptions{
		Zoom:     view.Zoom,
		Center:   a.toNative(view.Center),
		ViewMode: "2D",
		MapStyle: "amap://styles/normal",
	})
	if mod.Has("AMap.Scale") {
		m.AddControl("AMap.Scale")
	}
	if mod.Has("AMap.ToolBar") {
		m.AddControl("AMap.ToolBar")
	}
	a.mod = mod
	a.m = m
	a.info = NewInfoWindow(infoWindowOffset)
	a.surface = s
	a.mu.Unlock()
	a.log.Debug("amap_map_created", "container", s.ID(), "width", w, "height", h, "zoom", view.Zoom)
	return &handle{a: a, s: s}, nil
}

func (a *Adapter) live() (*Map, *Module) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m, a.mod
}

// Map：原生地图实例，未挂载时为 nil
func (a *Adapter) Map() *Map {
	m, _ := a.live()
	return m
}

// InfoWindow：当前信息窗体
func (a *Adapter) InfoWindow() *InfoWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// 文档注释：创建覆盖物
// 背景：点为圆点标记，缺少 CircleMarker 插件时退化为内容标记；线、面按固定样式创建，并绑定点击事件。
func (a *Adapter) CreateOverlay(s mapview.Shape) (mapview.Overlay, error) {
	m, mod := a.live()
	if m == nil {
		return nil, mapview.ErrNotMounted
	}
	var native Overlay
	destroyOnly := false
	switch g := s.Geometry.(type) {
	case orb.Point:
		if !geo.Finite(g[0], g[1]) {
			return nil, errors.New("amap: non-finite marker position")
		}
		if mod.Has("AMap.CircleMarker") {
			native = NewCircleMarker(a.toNative(g), markerRadius, markerStyle)
		} else {
			native = NewMarker(a.toNative(g), markerOffset, `<div class="gaode-point-marker"></div>`)
			destroyOnly = true
		}
	case orb.LineString:
		path := make(orb.LineString, len(g))
		for i, p := range g {
			path[i] = a.toNative(p)
		}
		native = NewPolyline(path, lineStyle)
	case orb.Polygon:
		rings := make(orb.Polygon, len(g))
		for i, r := range g {
			ring := make(orb.Ring, len(r))
			for j, p := range r {
				ring[j] = a.toNative(p)
			}
			rings[i] = ring
		}
		native = NewPolygon(rings, polygonStyle)
	default:
		return nil, errors.New("amap: unsupported shape")
	}
	base := &overlay{shape: s, native: native}
	base.clickID = native.On("click", func(e Event) { a.dispatchHit(base, e) })
	if destroyOnly {
		mo := &markerOverlay{overlay: base}
		base.outer = mo
		return mo, nil
	}
	po := &pathOverlay{overlay: base}
	base.outer = po
	return po, nil
}

func (a *Adapter) dispatchHit(o *overlay, e Event) {
	a.mu.Lock()
	onHit := a.onHit
	a.mu.Unlock()
	if onHit == nil {
		return
	}
	var at orb.Point
	if o.shape.Kind == mapview.ShapeMarker {
		at = mapview.ClickPoint(o.shape, nil, orb.Point{})
	} else {
		ll := a.fromNative(e.LngLat)
		at = mapview.ClickPoint(o.shape, &ll, ll)
	}
	var ov mapview.Overlay = o
	if o.outer != nil {
		ov = o.outer
	}
	onHit(ov, at)
}

func (a *Adapter) AddOverlays(ovs []mapview.Overlay) error {
	m, _ := a.live()
	if m == nil {
		return mapview.ErrNotMounted
	}
	natives := make([]Overlay, 0, len(ovs))
	for _, o := range ovs {
		if n, ok := nativeOf(o); ok {
			natives = append(natives, n)
		}
	}
	m.Add(natives...)
	return nil
}

// Fit：按覆盖物调整视野；Duration 为 0 时立即完成
func (a *Adapter) Fit(ovs []mapview.Overlay, opts mapview.FitOptions) {
	m, _ := a.live()
	if m == nil || len(ovs) == 0 {
		return
	}
	opts = mapview.ClampFit(opts)
	natives := make([]Overlay, 0, len(ovs))
	for _, o := range ovs {
		if n, ok := nativeOf(o); ok {
			natives = append(natives, n)
		}
	}
	p := opts.Padding
	m.SetFitView(natives, opts.Duration == 0, [4]float64{p, p, p, p}, opts.MaxZoom)
}

func (a *Adapter) View() (mapview.ViewState, bool) {
	m, _ := a.live()
	if m == nil {
		return mapview.ViewState{}, false
	}
	return mapview.ViewState{Center: a.fromNative(m.GetCenter()), Zoom: m.GetZoom()}, true
}

func (a *Adapter) SetView(v mapview.ViewState) {
	m, _ := a.live()
	if m == nil {
		return
	}
	v = v.OrDefault()
	m.SetZoomAndCenter(v.Zoom, a.toNative(v.Center))
}

// BindCameraChange：监听 moveend 与 zoomend，重复绑定时先解绑旧监听
func (a *Adapter) BindCameraChange(fn func(mapview.ViewState)) {
	a.UnbindCameraChange()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil || fn == nil {
		return
	}
	m := a.m
	cb := func(Event) {
		fn(mapview.ViewState{Center: a.fromNative(m.GetCenter()), Zoom: m.GetZoom()})
	}
	a.camIDs = map[string]int{
		"moveend": m.On("moveend", cb),
		"zoomend": m.On("zoomend", cb),
	}
}

func (a *Adapter) UnbindCameraChange() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil || a.camIDs == nil {
		a.camIDs = nil
		return
	}
	for typ, id := range a.camIDs {
		a.m.Off(typ, id)
	}
	a.camIDs = nil
}

// BindClick：覆盖物命中回调与空白处点击回调；空白处点击先隐藏信息窗体
func (a *Adapter) BindClick(onHit func(mapview.Overlay, orb.Point), onMiss func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onHit, a.onMiss = onHit, onMiss
	if a.m == nil || a.clickID != 0 {
		return
	}
	a.clickID = a.m.On("click", func(Event) {
		a.popup.Hide()
		a.mu.Lock()
		miss := a.onMiss
		a.mu.Unlock()
		if miss != nil {
			miss()
		}
	})
}

func (a *Adapter) Overlays() *mapview.OverlayManager { return a.overlays }
func (a *Adapter) Popup() *mapview.PopupController   { return a.popup }

// newPopup：信息窗体缺失时（Release 之后）补建
func (a *Adapter) newPopup() mapview.PopupHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil || a.closed {
		return nil
	}
	if a.info == nil {
		a.info = NewInfoWindow(infoWindowOffset)
	}
	return &popupHandle{a: a, w: a.info, m: a.m}
}

// 文档注释：释放
// 背景：依次解绑相机监听、解绑点击监听、释放信息窗体、清空覆盖物、销毁地图实例；每一步独立尽力执行。
// 约束：幂等；挂载进行中调用时，挂载完成后放弃结果。
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
		defer a.mu.Unlock()
		if a.m != nil && a.clickID != 0 {
			a.m.Off("click", a.clickID)
		}
		a.clickID = 0
		a.onHit, a.onMiss = nil, nil
	})
	a.step("release_popup", a.popup.Release)
	a.step("clear_overlays", a.overlays.Clear)
	a.step("destroy_map", func() {
		a.mu.Lock()
		m := a.m
		a.m, a.info, a.mod = nil, nil, nil
		a.mu.Unlock()
		if m != nil {
			m.Destroy()
		}
	})
	a.log.Debug("amap_teardown_done")
}

func (a *Adapter) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("amap_teardown_step_panic", "step", name, "panic", r)
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
		m.Resize(width, height)
	}
}

func (h *handle) Click(px orb.Point) {
	if m := h.a.Map(); m != nil {
		m.Click(px)
	}
}

// overlay：mapview.Overlay 与原生覆盖物的绑定
type overlay struct {
	shape   mapview.Shape
	native  Overlay
	clickID int
	outer   mapview.Overlay
}

func (o *overlay) Feature() *feature.Feature { return o.shape.Feature }
func (o *overlay) Kind() mapview.ShapeKind   { return o.shape.Kind }
func (o *overlay) Bound() orb.Bound          { return o.shape.Bound() }

func (o *overlay) unbind() {
	if o.clickID != 0 {
		o.native.Off("click", o.clickID)
		o.clickID = 0
	}
}

// pathOverlay：支持 setMap(null) 摘除的覆盖物
type pathOverlay struct {
	*overlay
}

func (p *pathOverlay) Detach() {
	p.unbind()
	if sm, ok := p.native.(interface{ SetMap(*Map) }); ok {
		sm.SetMap(nil)
	}
}

// markerOverlay：内容标记只能销毁
type markerOverlay struct {
	*overlay
}

func (mk *markerOverlay) Destroy() {
	mk.unbind()
	if d, ok := mk.native.(*Marker); ok {
		d.Destroy()
	}
}

func nativeOf(o mapview.Overlay) (Overlay, bool) {
	switch v := o.(type) {
	case *pathOverlay:
		return v.native, true
	case *markerOverlay:
		return v.native, true
	case *overlay:
		return v.native, true
	}
	return nil, false
}

type popupHandle struct {
	a *Adapter
	w *InfoWindow
	m *Map
}

func (p *popupHandle) SetContent(content string) { p.w.SetContent(content) }
func (p *popupHandle) Open(anchor orb.Point)     { p.w.Open(p.m, p.a.toNative(anchor)) }
func (p *popupHandle) Close()                    { p.w.Close() }

func (p *popupHandle) Release() {
	p.w.Close()
	p.a.mu.Lock()
	if p.a.info == p.w {
		p.a.info = nil
	}
	p.a.mu.Unlock()
}
