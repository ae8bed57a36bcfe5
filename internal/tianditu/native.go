package tianditu

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"mapview/internal/geo"
)

// 视图缩放范围
const (
	MinZoom = 3.0
	MaxZoom = 18.0
)

// Pixel 像素偏移
type Pixel struct {
	X, Y float64
}

// Event：原生事件；Coordinate 为 EPSG:3857 坐标
type Event struct {
	Type       string
	Pixel      orb.Point
	Coordinate orb.Point
}

type listener struct {
	id int
	fn func(Event)
}

// EventKey：On 返回的监听凭据，交给 UnByKey 解绑
type EventKey struct {
	target *observable
	typ    string
	id     int
}

// Valid：凭据是否指向一个监听
func (k EventKey) Valid() bool { return k.target != nil }

// observable：监听器按注册顺序同步触发，触发时不持有锁
type observable struct {
	omu  sync.Mutex
	next int
	ls   map[string][]listener
}

func (o *observable) On(typ string, fn func(Event)) EventKey {
	o.omu.Lock()
	defer o.omu.Unlock()
	if o.ls == nil {
		o.ls = make(map[string][]listener)
	}
	o.next++
	o.ls[typ] = append(o.ls[typ], listener{id: o.next, fn: fn})
	return EventKey{target: o, typ: typ, id: o.next}
}

func (o *observable) un(typ string, id int) {
	o.omu.Lock()
	defer o.omu.Unlock()
	ls := o.ls[typ]
	for i, l := range ls {
		if l.id == id {
			o.ls[typ] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// ListenerCount：某类事件的监听器数量
func (o *observable) ListenerCount(typ string) int {
	o.omu.Lock()
	defer o.omu.Unlock()
	return len(o.ls[typ])
}

func (o *observable) dispatch(ev Event) {
	o.omu.Lock()
	ls := append([]listener(nil), o.ls[ev.Type]...)
	o.omu.Unlock()
	for _, l := range ls {
		l.fn(ev)
	}
}

// UnByKey：按凭据解绑；重复解绑为空操作
func UnByKey(keys ...EventKey) {
	for _, k := range keys {
		if k.target != nil {
			k.target.un(k.typ, k.id)
		}
	}
}

// 文档注释：视图（EPSG:3857）
// 背景：中心或缩放变化时分别触发 change:center 与 change:resolution；值未变化不触发。
type View struct {
	observable

	mu       sync.Mutex
	center   orb.Point
	zoom     float64
	minZoom  float64
	maxZoom  float64
	duration time.Duration
}

func NewView(center orb.Point, zoom, minZoom, maxZoom float64) *View {
	v := &View{center: center, minZoom: minZoom, maxZoom: maxZoom}
	v.zoom = v.clamp(zoom)
	return v
}

func (v *View) clamp(z float64) float64 {
	return math.Max(v.minZoom, math.Min(v.maxZoom, z))
}

func (v *View) GetCenter() orb.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *View) GetZoom() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *View) GetResolution() float64 { return geo.Resolution(v.GetZoom()) }

func (v *View) SetCenter(c orb.Point) {
	v.mu.Lock()
	if v.center == c {
		v.mu.Unlock()
		return
	}
	v.center = c
	v.mu.Unlock()
	v.dispatch(Event{Type: "change:center", Coordinate: c})
}

func (v *View) SetZoom(z float64) {
	v.mu.Lock()
	z = v.clamp(z)
	if v.zoom == z {
		v.mu.Unlock()
		return
	}
	v.zoom = z
	v.mu.Unlock()
	v.dispatch(Event{Type: "change:resolution"})
}

// FitOptions：View.Fit 参数，Padding 为上、右、下、左
type FitOptions struct {
	Padding  geo.Padding
	MaxZoom  float64
	Duration time.Duration
}

// Fit：适配范围；动画直接落到终点，Duration 仅记录
func (v *View) Fit(extent orb.Bound, width, height int, o FitOptions) {
	v.mu.Lock()
	maxZoom := v.maxZoom
	if o.MaxZoom > 0 && o.MaxZoom < maxZoom {
		maxZoom = o.MaxZoom
	}
	minZoom := v.minZoom
	v.duration = o.Duration
	v.mu.Unlock()
	c, z := geo.Fit(extent, width, height, o.Padding, minZoom, maxZoom)
	v.SetCenter(c)
	v.SetZoom(z)
}

// LastFitDuration：最近一次 Fit 的动画时长
func (v *View) LastFitDuration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.duration
}

// Style 要素样式
type Style struct {
	Radius      float64
	FillColor   string
	StrokeColor string
	StrokeWidth float64
}

// 文档注释：矢量要素
// 背景：几何为 EPSG:3857；属性表用于挂接调用方数据。
type Feature struct {
	mu    sync.Mutex
	geom  orb.Geometry
	props map[string]any

	src *VectorSource
	seq uint64
}

func NewFeature(g orb.Geometry) *Feature {
	return &Feature{geom: g, props: make(map[string]any)}
}

func (f *Feature) GetGeometry() orb.Geometry { return f.geom }

func (f *Feature) Set(key string, v any) {
	f.mu.Lock()
	f.props[key] = v
	f.mu.Unlock()
}

func (f *Feature) Get(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[key]
}

// pointEpsilon 点要素在索引中的最小边长（米）
const pointEpsilon = 1e-3

// Bounds：rtreego.Spatial
func (f *Feature) Bounds() rtreego.Rect {
	return toRect(f.geom.Bound())
}

func toRect(b orb.Bound) rtreego.Rect {
	w := math.Max(b.Max[0]-b.Min[0], pointEpsilon)
	h := math.Max(b.Max[1]-b.Min[1], pointEpsilon)
	r, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
	return r
}

// 文档注释：矢量数据源
// 背景：要素按加入顺序编号，R 树索引用于像素命中查询的候选集。
// 约束：同一要素只能属于一个数据源；重复加入忽略。
type VectorSource struct {
	mu       sync.Mutex
	tree     *rtreego.Rtree
	features []*Feature
	seq      uint64
}

func NewVectorSource() *VectorSource {
	return &VectorSource{tree: rtreego.NewTree(2, 25, 50)}
}

func (s *VectorSource) AddFeatures(fs ...*Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fs {
		if f == nil || f.src != nil {
			continue
		}
		s.seq++
		f.src, f.seq = s, s.seq
		s.features = append(s.features, f)
		s.tree.Insert(f)
	}
}

func (s *VectorSource) RemoveFeature(f *Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == nil || f.src != s {
		return false
	}
	for i, g := range s.features {
		if g == f {
			s.features = append(s.features[:i:i], s.features[i+1:]...)
			break
		}
	}
	s.tree.Delete(f)
	f.src = nil
	return true
}

func (s *VectorSource) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.features {
		f.src = nil
	}
	s.features = nil
	s.tree = rtreego.NewTree(2, 25, 50)
}

func (s *VectorSource) GetFeatures() []*Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Feature(nil), s.features...)
}

// GetExtent：全部要素范围，空数据源返回 false
func (s *VectorSource) GetExtent() (orb.Bound, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.features) == 0 {
		return orb.Bound{}, false
	}
	b := s.features[0].geom.Bound()
	for _, f := range s.features[1:] {
		b = b.Union(f.geom.Bound())
	}
	return b, true
}

// candidates：与 b 相交的要素，后加入的在前
func (s *VectorSource) candidates(b orb.Bound) []*Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	hits := s.tree.SearchIntersect(toRect(b))
	out := make([]*Feature, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*Feature))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

// Layer：按 z-index 叠放的图层
type Layer interface {
	ZIndex() int
}

// VectorLayer 矢量图层
type VectorLayer struct {
	Source *VectorSource
	Style  func(*Feature) Style

	zIndex int
}

func NewVectorLayer(src *VectorSource, style func(*Feature) Style, z int) *VectorLayer {
	return &VectorLayer{Source: src, Style: style, zIndex: z}
}

func (l *VectorLayer) ZIndex() int { return l.zIndex }

// hitTolerance 线与面边界的像素容差
const hitTolerance = 4.0

func (l *VectorLayer) hit(f *Feature, vp geo.Viewport, px orb.Point) bool {
	var st Style
	if l.Style != nil {
		st = l.Style(f)
	}
	switch g := f.geom.(type) {
	case orb.Point:
		return planar.Distance(vp.ToPixel(g), px) <= st.Radius+st.StrokeWidth/2+1
	case orb.LineString:
		return geo.DistanceToLine(pixelLine(vp, g), px) <= hitTolerance+st.StrokeWidth/2
	case orb.Polygon:
		poly := make(orb.Polygon, len(g))
		for i, r := range g {
			poly[i] = orb.Ring(pixelLine(vp, orb.LineString(r)))
		}
		if geo.PolygonContains(poly, px) {
			return true
		}
		return len(poly) > 0 && geo.DistanceToRingEdge(poly[0], px) <= hitTolerance
	}
	return false
}

func pixelLine(vp geo.Viewport, ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = vp.ToPixel(p)
	}
	return out
}

// 文档注释：弹窗覆盖物
// 背景：Element 为 HTML 内容；Position 为空表示隐藏。
type Overlay struct {
	Offset      Pixel
	Positioning string
	StopEvent   bool

	mu       sync.Mutex
	element  string
	position *orb.Point
}

func NewOverlay(offset Pixel, positioning string) *Overlay {
	return &Overlay{Offset: offset, Positioning: positioning, StopEvent: true}
}

func (o *Overlay) SetElement(html string) {
	o.mu.Lock()
	o.element = html
	o.mu.Unlock()
}

func (o *Overlay) GetElement() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.element
}

// SetPosition：nil 表示隐藏
func (o *Overlay) SetPosition(p *orb.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p == nil {
		o.position = nil
		return
	}
	c := *p
	o.position = &c
}

func (o *Overlay) GetPosition() (orb.Point, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.position == nil {
		return orb.Point{}, false
	}
	return *o.position, true
}

// MapOptions：地图构造参数
type MapOptions struct {
	Target string
	Width  int
	Height int
	View   *View
	Layers []Layer
}

// 文档注释：无界面 OpenLayers 风格地图
// 背景：与 ol/Map 同形：getView/getLayers/addOverlay/forEachFeatureAtPixel/setTarget，singleclick 事件。
// 约束：target 为空时不响应点击；dispose 后所有修改操作为空操作。
type Map struct {
	observable

	mu       sync.Mutex
	target   string
	width    int
	height   int
	view     *View
	layers   []Layer
	overlays []*Overlay
	disposed bool
}

func NewMap(o MapOptions) *Map {
	v := o.View
	if v == nil {
		v = NewView(orb.Point{}, MinZoom, MinZoom, MaxZoom)
	}
	return &Map{
		target: o.Target,
		width:  o.Width,
		height: o.Height,
		view:   v,
		layers: append([]Layer(nil), o.Layers...),
	}
}

func (m *Map) GetView() *View { return m.view }

func (m *Map) GetTarget() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Map) SetTarget(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.disposed {
		m.target = t
	}
}

func (m *Map) GetSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

func (m *Map) SetSize(width, height int) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.width, m.height = width, height
	m.mu.Unlock()
	m.dispatch(Event{Type: "change:size"})
}

// GetLayers：按 z-index 升序（相同时按加入顺序）的图层快照
func (m *Map) GetLayers() []Layer {
	m.mu.Lock()
	ls := append([]Layer(nil), m.layers...)
	m.mu.Unlock()
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].ZIndex() < ls[j].ZIndex() })
	return ls
}

func (m *Map) AddLayer(l Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || l == nil {
		return
	}
	for _, x := range m.layers {
		if x == l {
			return
		}
	}
	m.layers = append(m.layers, l)
}

func (m *Map) RemoveLayer(l Layer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.layers {
		if x == l {
			m.layers = append(m.layers[:i:i], m.layers[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Map) AddOverlay(o *Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || o == nil {
		return
	}
	for _, x := range m.overlays {
		if x == o {
			return
		}
	}
	m.overlays = append(m.overlays, o)
}

func (m *Map) RemoveOverlay(o *Overlay) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.overlays {
		if x == o {
			m.overlays = append(m.overlays[:i:i], m.overlays[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Map) GetOverlays() []*Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Overlay(nil), m.overlays...)
}

// Viewport：当前视口
func (m *Map) Viewport() geo.Viewport {
	w, h := m.GetSize()
	return geo.Viewport{Center: m.view.GetCenter(), Zoom: m.view.GetZoom(), Width: w, Height: h}
}

// queryPadding R 树查询的像素外扩
const queryPadding = 12.0

// 文档注释：像素命中
// 背景：自上而下遍历矢量图层，R 树取候选后逐个精确判断；fn 返回 true 时停止。
func (m *Map) ForEachFeatureAtPixel(px orb.Point, fn func(*Feature, *VectorLayer) bool) {
	vp := m.Viewport()
	c := vp.FromPixel(px)
	d := queryPadding * geo.Resolution(vp.Zoom)
	q := orb.Bound{Min: orb.Point{c[0] - d, c[1] - d}, Max: orb.Point{c[0] + d, c[1] + d}}
	ls := m.GetLayers()
	for i := len(ls) - 1; i >= 0; i-- {
		vl, ok := ls[i].(*VectorLayer)
		if !ok || vl.Source == nil {
			continue
		}
		for _, f := range vl.Source.candidates(q) {
			if vl.hit(f, vp, px) && fn(f, vl) {
				return
			}
		}
	}
}

// Click：指针单击，触发 singleclick
func (m *Map) Click(px orb.Point) {
	m.mu.Lock()
	if m.disposed || m.target == "" {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	vp := m.Viewport()
	m.dispatch(Event{Type: "singleclick", Pixel: px, Coordinate: vp.FromPixel(px)})
}

func (m *Map) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Dispose：脱离容器并释放图层、覆盖物与监听
func (m *Map) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.target = ""
	m.layers = nil
	m.overlays = nil
	m.mu.Unlock()
	m.omu.Lock()
	m.ls = nil
	m.omu.Unlock()
}
