package mapview

import (
	"context"
	"sync"

	"github.com/paulmach/orb"

	"mapview/internal/config"
	"mapview/internal/feature"
)

type fakeOverlay struct {
	shape Shape
}

func (o *fakeOverlay) Feature() *feature.Feature { return o.shape.Feature }
func (o *fakeOverlay) Kind() ShapeKind           { return o.shape.Kind }
func (o *fakeOverlay) Bound() orb.Bound          { return o.shape.Bound() }
func (o *fakeOverlay) Shape() Shape              { return o.shape }

type detachOverlay struct {
	*fakeOverlay
	detached int
}

func (o *detachOverlay) Detach() { o.detached++ }

type destroyOverlay struct {
	*fakeOverlay
	destroyed int
}

func (o *destroyOverlay) Destroy() { o.destroyed++ }

type bothOverlay struct {
	*fakeOverlay
	detached, destroyed int
}

func (o *bothOverlay) Detach()  { o.detached++ }
func (o *bothOverlay) Destroy() { o.destroyed++ }

type fakePopup struct {
	content  string
	open     bool
	released bool
}

func (p *fakePopup) SetContent(c string) { p.content = c }
func (p *fakePopup) Open(orb.Point)      { p.open = true }
func (p *fakePopup) Close()              { p.open = false }
func (p *fakePopup) Release()            { p.released = true }

type fakeHandle struct {
	a *fakeAdapter
	s Surface
}

func (h *fakeHandle) Surface() Surface { return h.s }
func (h *fakeHandle) Resize(w, hh int) {
	h.a.mu.Lock()
	h.a.size = [2]int{w, hh}
	h.a.mu.Unlock()
}
func (h *fakeHandle) Click(px orb.Point) { h.a.click(px) }

// fakeAdapter：内存相机 + 按下标命中的点击
type fakeAdapter struct {
	variant Variant
	key     string
	loadErr error
	block   chan struct{}
	panicOn string

	mu        sync.Mutex
	mounted   bool
	closed    bool
	view      ViewState
	style     string
	size      [2]int
	camera    func(ViewState)
	onHit     func(Overlay, orb.Point)
	onMiss    func()
	added     int
	fits      int
	lastFit   FitOptions
	teardowns int
	unbinds   int
	restyles  int

	overlays *OverlayManager
	popup    *PopupController
}

func (a *fakeAdapter) Variant() Variant { return a.variant }

func (a *fakeAdapter) Mount(ctx context.Context, s Surface, opts MountOptions) (Handle, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.key == "" {
		return nil, &ConfigurationError{Variant: a.variant, Credential: "key", Notice: "no key for " + string(a.variant)}
	}
	if a.loadErr != nil {
		return nil, &ProviderLoadError{Variant: a.variant, Err: a.loadErr, Notice: "load failed"}
	}
	a.mu.Lock()
	a.mounted = true
	a.view = opts.View
	a.style = opts.Style
	a.mu.Unlock()
	return &fakeHandle{a: a, s: s}, nil
}

func (a *fakeAdapter) CreateOverlay(s Shape) (Overlay, error) {
	if a.panicOn != "" && s.Feature.Properties["name"] == a.panicOn {
		panic("native overlay failure")
	}
	base := &fakeOverlay{shape: s}
	if s.Kind == ShapePolygon {
		return &destroyOverlay{fakeOverlay: base}, nil
	}
	return &detachOverlay{fakeOverlay: base}, nil
}

func (a *fakeAdapter) AddOverlays(ovs []Overlay) error {
	a.mu.Lock()
	a.added += len(ovs)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Fit(ovs []Overlay, opts FitOptions) {
	b, ok := BoundOf(ovs)
	if !ok {
		return
	}
	zoom := opts.MaxZoom
	if b.Min != b.Max {
		zoom = 8
	}
	a.mu.Lock()
	a.fits++
	a.lastFit = opts
	a.mu.Unlock()
	a.SetView(ViewState{Center: b.Center(), Zoom: zoom})
}

func (a *fakeAdapter) View() (ViewState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mounted {
		return ViewState{}, false
	}
	return a.view, true
}

func (a *fakeAdapter) SetView(v ViewState) {
	a.mu.Lock()
	a.view = v
	cb := a.camera
	a.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

func (a *fakeAdapter) BindCameraChange(fn func(ViewState)) {
	a.mu.Lock()
	a.camera = fn
	a.mu.Unlock()
}

func (a *fakeAdapter) UnbindCameraChange() {
	a.mu.Lock()
	if a.camera != nil {
		a.unbinds++
	}
	a.camera = nil
	a.mu.Unlock()
}

func (a *fakeAdapter) BindClick(onHit func(Overlay, orb.Point), onMiss func()) {
	a.mu.Lock()
	a.onHit, a.onMiss = onHit, onMiss
	a.mu.Unlock()
}

func (a *fakeAdapter) Overlays() *OverlayManager { return a.overlays }
func (a *fakeAdapter) Popup() *PopupController   { return a.popup }

func (a *fakeAdapter) click(px orb.Point) {
	ovs := a.overlays.Overlays()
	a.mu.Lock()
	onHit, onMiss := a.onHit, a.onMiss
	a.mu.Unlock()
	idx := int(px[0])
	if px[0] >= 0 && idx < len(ovs) {
		s := ovs[idx].(interface{ Shape() Shape }).Shape()
		if onHit != nil {
			onHit(ovs[idx], ClickPoint(s, nil, s.Bound().Center()))
		}
		return
	}
	a.popup.Hide()
	if onMiss != nil {
		onMiss()
	}
}

func (a *fakeAdapter) Teardown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.teardowns++
	a.mounted = false
	a.onHit, a.onMiss = nil, nil
	a.mu.Unlock()
	a.UnbindCameraChange()
	a.popup.Release()
	a.overlays.Clear()
}

func (a *fakeAdapter) isMounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mounted
}

type restylingFake struct {
	*fakeAdapter
}

func (r *restylingFake) Restyle(style string) error {
	r.mu.Lock()
	r.style = style
	r.restyles++
	r.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	n.warns = append(n.warns, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	n.errors = append(n.errors, msg)
	n.mu.Unlock()
}

// testEnv：注册两个假提供方，记录构造过的适配器
type testEnv struct {
	mu      sync.Mutex
	reg     *Registry
	created []*fakeAdapter
	loadErr error
	block   chan struct{}
	panicOn string
}

func newTestEnv() *testEnv {
	e := &testEnv{reg: NewRegistry()}
	e.reg.Register(Provider{
		Variant:   "fakeA",
		New:       func(c config.Credentials) Adapter { return e.build("fakeA", c.ClientKey) },
		Available: func(c config.Credentials) bool { return c.HasClientKey() },
		BaseMaps:  []BaseMap{{Value: "aVector", Label: "A vector", Style: "vector"}},
	})
	e.reg.Register(Provider{
		Variant:   "fakeB",
		New:       func(c config.Credentials) Adapter { return &restylingFake{e.build("fakeB", c.TileServiceKey)} },
		Available: func(c config.Credentials) bool { return c.HasTileServiceKey() },
		BaseMaps: []BaseMap{
			{Value: "bVector", Label: "B vector", Style: "vector"},
			{Value: "bImage", Label: "B image", Style: "image"},
		},
	})
	return e
}

func (e *testEnv) build(v Variant, key string) *fakeAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := &fakeAdapter{variant: v, key: key, loadErr: e.loadErr, block: e.block, panicOn: e.panicOn}
	a.popup = NewPopupController(func() PopupHandle {
		if !a.isMounted() {
			return nil
		}
		return &fakePopup{}
	})
	a.overlays = NewOverlayManager(a.AddOverlays, a.popup)
	e.created = append(e.created, a)
	return a
}

func (e *testEnv) adapters() []*fakeAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeAdapter(nil), e.created...)
}
