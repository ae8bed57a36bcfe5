package amap

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"mapview/internal/geo"
)

// 缩放范围与 JS API 2.0 一致
const (
	MinZoom = 2.0
	MaxZoom = 20.0
)

// Pixel 像素偏移
type Pixel struct {
	X, Y float64
}

// Event：原生事件；LngLat 为地图坐标系下的经纬度
type Event struct {
	Type   string
	LngLat orb.Point
	Pixel  orb.Point
	Target any
}

type listener struct {
	id int
	fn func(Event)
}

// emitter：On/Off 事件表，监听器按注册顺序同步触发
type emitter struct {
	emu  sync.Mutex
	next int
	ls   map[string][]listener
}

func (e *emitter) On(typ string, fn func(Event)) int {
	e.emu.Lock()
	defer e.emu.Unlock()
	if e.ls == nil {
		e.ls = make(map[string][]listener)
	}
	e.next++
	e.ls[typ] = append(e.ls[typ], listener{id: e.next, fn: fn})
	return e.next
}

func (e *emitter) Off(typ string, id int) bool {
	e.emu.Lock()
	defer e.emu.Unlock()
	ls := e.ls[typ]
	for i, l := range ls {
		if l.id == id {
			e.ls[typ] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount：某类事件的监听器数量
func (e *emitter) ListenerCount(typ string) int {
	e.emu.Lock()
	defer e.emu.Unlock()
	return len(e.ls[typ])
}

func (e *emitter) clearListeners() {
	e.emu.Lock()
	e.ls = nil
	e.emu.Unlock()
}

func (e *emitter) fire(ev Event) bool {
	e.emu.Lock()
	ls := append([]listener(nil), e.ls[ev.Type]...)
	e.emu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
	return len(ls) > 0
}

// Overlay：可加入地图的原生覆盖物
type Overlay interface {
	On(typ string, fn func(Event)) int
	Off(typ string, id int) bool
	attach(m *Map)
	hitTest(vp geo.Viewport, px orb.Point) bool
	bound() orb.Bound
	fire(ev Event) bool
}

// MapOptions：地图构造参数
type MapOptions struct {
	Zoom     float64
	Center   orb.Point
	ViewMode string
	MapStyle string
}

// 文档注释：无界面高德地图实例
// 背景：与 JS API 的 Map 同形：setZoomAndCenter/getCenter/getZoom、on/off、add、setFitView、addControl、destroy。
// 约束：事件在修改状态的调用内同步触发，触发时不持有内部锁；destroy 后所有修改操作为空操作。
type Map struct {
	emitter
	Container string
	ViewMode  string
	MapStyle  string

	mu          sync.Mutex
	width       int
	height      int
	center      orb.Point
	zoom        float64
	layers      []Overlay
	controls    []string
	destroyed   bool
	fitAnimated bool
}

func NewMap(container string, width, height int, opts MapOptions) *Map {
	return &Map{
		Container: container,
		ViewMode:  opts.ViewMode,
		MapStyle:  opts.MapStyle,
		width:     width,
		height:    height,
		center:    opts.Center,
		zoom:      clampZoom(opts.Zoom),
	}
}

func clampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

func (m *Map) GetCenter() orb.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

func (m *Map) GetZoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

func (m *Map) Size() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

func (m *Map) Resize(width, height int) {
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
	m.fire(Event{Type: "resize", Target: m})
}

// SetZoomAndCenter：同时设置缩放与中心，触发 moveend，缩放变化时再触发 zoomend
func (m *Map) SetZoomAndCenter(zoom float64, center orb.Point) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	zoom = clampZoom(zoom)
	zoomed := zoom != m.zoom
	m.zoom = zoom
	m.center = center
	m.mu.Unlock()
	m.fire(Event{Type: "moveend", Target: m})
	if zoomed {
		m.fire(Event{Type: "zoomend", Target: m})
	}
}

func (m *Map) AddControl(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.destroyed {
		m.controls = append(m.controls, name)
	}
}

func (m *Map) Controls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.controls...)
}

// Add：批量加入覆盖物
func (m *Map) Add(ovs ...Overlay) {
	for _, o := range ovs {
		o.attach(m)
	}
}

// GetAllOverlays：当前在图上的覆盖物
func (m *Map) GetAllOverlays() []Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Overlay(nil), m.layers...)
}

func (m *Map) insert(o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	for _, l := range m.layers {
		if l == o {
			return
		}
	}
	m.layers = append(m.layers, o)
}

func (m *Map) remove(o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.layers {
		if l == o {
			m.layers = append(m.layers[:i:i], m.layers[i+1:]...)
			return
		}
	}
}

func (m *Map) viewportLocked() geo.Viewport {
	return geo.Viewport{Center: geo.ToMercator(m.center), Zoom: m.zoom, Width: m.width, Height: m.height}
}

// 文档注释：按覆盖物范围调整视野
// 背景：avoid 为上、下、左、右四边避让像素，与 JS API 参数顺序一致；ovs 为空时取图上全部覆盖物。
// 约束：maxZoom<=0 时使用 MaxZoom；immediately 为 false 表示带动画。
func (m *Map) SetFitView(ovs []Overlay, immediately bool, avoid [4]float64, maxZoom float64) {
	if len(ovs) == 0 {
		ovs = m.GetAllOverlays()
	}
	if len(ovs) == 0 {
		return
	}
	b := ovs[0].bound()
	for _, o := range ovs[1:] {
		b = b.Union(o.bound())
	}
	if maxZoom <= 0 {
		maxZoom = MaxZoom
	}
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	w, h := m.width, m.height
	m.fitAnimated = !immediately
	m.mu.Unlock()
	ext := orb.Bound{Min: geo.ToMercator(b.Min), Max: geo.ToMercator(b.Max)}
	pad := geo.Padding{avoid[0], avoid[3], avoid[1], avoid[2]}
	c, z := geo.Fit(ext, w, h, pad, MinZoom, maxZoom)
	m.SetZoomAndCenter(z, geo.ToWGS84(c))
}

// FitAnimated：最近一次 setFitView 是否带动画
func (m *Map) FitAnimated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fitAnimated
}

// 文档注释：像素点击
// 背景：自上而下命中覆盖物，命中且有点击监听时只触发覆盖物事件；否则触发地图 click。
func (m *Map) Click(px orb.Point) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	vp := m.viewportLocked()
	layers := append([]Overlay(nil), m.layers...)
	m.mu.Unlock()
	ll := geo.ToWGS84(vp.FromPixel(px))
	for i := len(layers) - 1; i >= 0; i-- {
		o := layers[i]
		if o.hitTest(vp, px) && o.fire(Event{Type: "click", LngLat: ll, Pixel: px, Target: o}) {
			return
		}
	}
	m.fire(Event{Type: "click", LngLat: ll, Pixel: px, Target: m})
}

// LngLatToPixel：地图坐标转表面像素
func (m *Map) LngLatToPixel(ll orb.Point) orb.Point {
	m.mu.Lock()
	vp := m.viewportLocked()
	m.mu.Unlock()
	return vp.ToPixel(geo.ToMercator(ll))
}

func (m *Map) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Destroy：销毁地图，移除全部覆盖物与监听
func (m *Map) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.layers = nil
	m.controls = nil
	m.mu.Unlock()
	m.clearListeners()
}

// PathStyle 描边与填充样式
type PathStyle struct {
	StrokeColor   string
	StrokeWeight  float64
	StrokeOpacity float64
	FillColor     string
	FillOpacity   float64
}

type overlayBase struct {
	emitter
	omu  sync.Mutex
	m    *Map
	self Overlay
}

func (b *overlayBase) attach(m *Map) {
	b.omu.Lock()
	old := b.m
	b.m = m
	b.omu.Unlock()
	if old == m {
		return
	}
	if old != nil {
		old.remove(b.self)
	}
	if m != nil {
		m.insert(b.self)
	}
}

func (b *overlayBase) GetMap() *Map {
	b.omu.Lock()
	defer b.omu.Unlock()
	return b.m
}

// CircleMarker：圆点标记（需要 AMap.CircleMarker 插件）
type CircleMarker struct {
	overlayBase
	Center orb.Point
	Radius float64
	PathStyle
}

func NewCircleMarker(center orb.Point, radius float64, style PathStyle) *CircleMarker {
	c := &CircleMarker{Center: center, Radius: radius, PathStyle: style}
	c.self = c
	return c
}

func (c *CircleMarker) SetMap(m *Map)         { c.attach(m) }
func (c *CircleMarker) GetPosition() orb.Point { return c.Center }
func (c *CircleMarker) bound() orb.Bound       { return c.Center.Bound() }

func (c *CircleMarker) hitTest(vp geo.Viewport, px orb.Point) bool {
	return planar.Distance(vp.ToPixel(geo.ToMercator(c.Center)), px) <= c.Radius+c.StrokeWeight/2
}

// 文档注释：内容标记（插件缺失时的圆点替代）
// 约束：没有 setMap，只能 destroy。
type Marker struct {
	overlayBase
	Position orb.Point
	Offset   Pixel
	Content  string
	Width    float64
	Height   float64
}

func NewMarker(position orb.Point, offset Pixel, content string) *Marker {
	mk := &Marker{Position: position, Offset: offset, Content: content, Width: 12, Height: 12}
	mk.self = mk
	return mk
}

func (mk *Marker) GetPosition() orb.Point { return mk.Position }
func (mk *Marker) bound() orb.Bound       { return mk.Position.Bound() }

func (mk *Marker) hitTest(vp geo.Viewport, px orb.Point) bool {
	p := vp.ToPixel(geo.ToMercator(mk.Position))
	x0, y0 := p[0]+mk.Offset.X, p[1]+mk.Offset.Y
	return px[0] >= x0 && px[0] <= x0+mk.Width && px[1] >= y0 && px[1] <= y0+mk.Height
}

// Destroy：从地图移除并清除监听
func (mk *Marker) Destroy() {
	mk.attach(nil)
	mk.clearListeners()
}

// Polyline 折线
type Polyline struct {
	overlayBase
	Path orb.LineString
	PathStyle
}

func NewPolyline(path orb.LineString, style PathStyle) *Polyline {
	p := &Polyline{Path: path, PathStyle: style}
	p.self = p
	return p
}

func (p *Polyline) SetMap(m *Map)   { p.attach(m) }
func (p *Polyline) bound() orb.Bound { return p.Path.Bound() }

// lineTolerance 折线命中的最小像素半宽
const lineTolerance = 4.0

func (p *Polyline) hitTest(vp geo.Viewport, px orb.Point) bool {
	pix := make(orb.LineString, len(p.Path))
	for i, ll := range p.Path {
		pix[i] = vp.ToPixel(geo.ToMercator(ll))
	}
	tol := p.StrokeWeight / 2
	if tol < lineTolerance {
		tol = lineTolerance
	}
	return geo.DistanceToLine(pix, px) <= tol
}

// Polygon 多边形，第一环为外环，其余为洞
type Polygon struct {
	overlayBase
	Path orb.Polygon
	PathStyle
}

func NewPolygon(path orb.Polygon, style PathStyle) *Polygon {
	p := &Polygon{Path: path, PathStyle: style}
	p.self = p
	return p
}

func (p *Polygon) SetMap(m *Map)   { p.attach(m) }
func (p *Polygon) bound() orb.Bound { return p.Path.Bound() }

func (p *Polygon) hitTest(vp geo.Viewport, px orb.Point) bool {
	return geo.PolygonContains(p.Path, geo.ToWGS84(vp.FromPixel(px)))
}

// 文档注释：信息窗体
// 约束：close 只隐藏，窗体可以再次 open 复用。
type InfoWindow struct {
	Offset Pixel

	mu      sync.Mutex
	content string
	pos     orb.Point
	m       *Map
	open    bool
}

func NewInfoWindow(offset Pixel) *InfoWindow { return &InfoWindow{Offset: offset} }

func (w *InfoWindow) SetContent(content string) {
	w.mu.Lock()
	w.content = content
	w.mu.Unlock()
}

func (w *InfoWindow) Open(m *Map, pos orb.Point) {
	w.mu.Lock()
	w.m, w.pos, w.open = m, pos, true
	w.mu.Unlock()
}

func (w *InfoWindow) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
}

func (w *InfoWindow) GetIsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

func (w *InfoWindow) GetContent() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.content
}

func (w *InfoWindow) GetPosition() orb.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}
