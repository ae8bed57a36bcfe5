package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"mapview/internal/config"
	"mapview/internal/feature"
	"mapview/internal/logger"
	"mapview/internal/metrics"
)

// State 控制器生命周期
type State int

const (
	StateUnmounted State = iota
	StateMounting
	StateMounted
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateTornDown:
		return "torn_down"
	}
	return "unknown"
}

// RenderOptions：渲染参数
type RenderOptions struct {
	PreserveView   bool
	OnFeatureClick func(f *feature.Feature, at orb.Point)
}

// RenderResult：一次渲染的统计
type RenderResult struct {
	Features int  `json:"features"`
	Overlays int  `json:"overlays"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
	Fitted   bool `json:"fitted"`
}

// Options：控制器构造参数，零值字段使用默认实现
type Options struct {
	Registry    *Registry
	Credentials config.Credentials
	BaseMap     string
	Notifier    Notifier
	Scheduler   Scheduler
	Fit         FitOptions
	Store       ViewStore
	StoreKey    string
}

type hit struct {
	f  *feature.Feature
	at orb.Point
}

// 文档注释：地图控制器（编排层）
// 背景：同一时刻持有一个适配器与一份视图状态；挂载、重新挂载与切换底图时重新应用视图状态。
// 约束：
// - 公共操作由 mu 串行化，SDK 加载期间不持有 mu；
// - gen 由 Mount、换提供方与 Teardown 递增，加载完成时代数不一致则丢弃结果并释放适配器；
// - 视图状态槽由 viewMu 单独保护，相机回调只写该槽；
// - 点击回调在释放 mu 之后调用，回调内可以继续操作控制器。
type Controller struct {
	reg      *Registry
	notify   Notifier
	sched    Scheduler
	fit      FitOptions
	store    ViewStore
	storeKey string
	log      *slog.Logger

	mu      sync.Mutex
	creds   config.Credentials
	baseMap BaseMap
	adapter Adapter
	handle  Handle
	surface Surface
	state   State
	gen     uint64
	renders uint64
	onClick func(*feature.Feature, orb.Point)
	pending *hit

	viewMu sync.Mutex
	view   ViewState
}

func NewController(opts Options) *Controller {
	c := &Controller{
		reg:      opts.Registry,
		notify:   opts.Notifier,
		sched:    opts.Scheduler,
		fit:      opts.Fit,
		store:    opts.Store,
		storeKey: opts.StoreKey,
		log:      logger.For("controller"),
		creds:    opts.Credentials,
		view:     DefaultViewState(),
	}
	if c.reg == nil {
		c.reg = NewRegistry()
	}
	if c.notify == nil {
		c.notify = LogNotifier{}
	}
	if c.sched == nil {
		c.sched = AfterFunc{}
	}
	if c.fit == (FitOptions{}) {
		c.fit = DefaultFitOptions
	}
	c.fit = ClampFit(c.fit)
	if c.storeKey == "" {
		c.storeKey = "default"
	}
	if opts.BaseMap != "" {
		if b, _, ok := c.reg.Lookup(opts.BaseMap); ok {
			c.baseMap = b
		}
	}
	return c
}

// Restore：从视图存储恢复上一次的视图状态
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	v, ok, err := c.store.Load(ctx, c.storeKey)
	if err != nil {
		return fmt.Errorf("restore view: %w", err)
	}
	if ok && v.Valid() {
		c.setView(v)
		c.log.Debug("view_restored", "key", c.storeKey, "center", v.Center, "zoom", v.Zoom)
	}
	return nil
}

// 文档注释：挂载到绘制表面
// 背景：已挂载时视为重新挂载，先释放旧适配器；新适配器按当前底图与凭据从注册表构造，以当前视图状态初始化。
// 约束：凭据缺失或加载失败回到 Unmounted 并通过 Notifier 提示，可重试；加载期间被 Teardown 或新的 Mount 取代时返回 ErrStaleMount。
func (c *Controller) Mount(ctx context.Context, s Surface) (Handle, error) {
	if s == nil {
		return nil, errors.New("mapview: nil surface")
	}
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return nil, ErrTornDown
	}
	c.gen++
	gen := c.gen
	c.releaseLocked()
	b, p, ok := c.resolveLocked()
	if !ok {
		c.state = StateUnmounted
		c.mu.Unlock()
		return nil, ErrUnknownBaseMap
	}
	ad := p.New(c.creds)
	c.surface = s
	c.state = StateMounting
	view := c.ViewState()
	c.mu.Unlock()

	variant := string(b.Variant)
	t0 := time.Now()
	h, err := mountSafe(ctx, ad, s, MountOptions{View: view, Style: b.Style})

	c.mu.Lock()
	if gen != c.gen || c.state == StateTornDown {
		c.mu.Unlock()
		ad.Teardown()
		metrics.MountTotal.WithLabelValues(variant, "stale").Inc()
		c.log.Info("map_mount_stale", "variant", variant, "gen", gen)
		return nil, ErrStaleMount
	}
	if err != nil {
		c.state = StateUnmounted
		c.mu.Unlock()
		ad.Teardown()
		metrics.MountTotal.WithLabelValues(variant, "fail").Inc()
		c.report(err)
		return nil, err
	}
	c.adapter = ad
	c.handle = h
	c.state = StateMounted
	ad.BindCameraChange(c.onCamera)
	ad.BindClick(c.onHit, c.onMiss)
	c.mu.Unlock()

	metrics.MountTotal.WithLabelValues(variant, "ok").Inc()
	c.log.Info("map_mounted", "variant", variant, "basemap", b.Value, "surface", s.ID(), "duration_ms", time.Since(t0).Milliseconds())
	return boundHandle{c: c}, nil
}

func mountSafe(ctx context.Context, ad Adapter, s Surface, opts MountOptions) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProviderLoadError{Variant: ad.Variant(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return ad.Mount(ctx, s, opts)
}

func (c *Controller) resolveLocked() (BaseMap, Provider, bool) {
	if c.baseMap.Value == "" {
		b, ok := c.reg.Default(c.creds)
		if !ok {
			return BaseMap{}, Provider{}, false
		}
		c.baseMap = b
	}
	return c.reg.Lookup(c.baseMap.Value)
}

// releaseLocked：回读视图状态后释放当前适配器
func (c *Controller) releaseLocked() {
	ad := c.adapter
	c.adapter = nil
	c.handle = nil
	c.pending = nil
	if ad == nil {
		return
	}
	if v, ok := ad.View(); ok && v.Valid() {
		c.setView(v)
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Warn("adapter_teardown_panic", "variant", string(ad.Variant()), "panic", r)
			}
		}()
		ad.Teardown()
	}()
}

func (c *Controller) report(err error) {
	var ce *ConfigurationError
	var pe *ProviderLoadError
	switch {
	case errors.As(err, &ce):
		c.log.Warn("map_mount_missing_credential", "variant", string(ce.Variant), "credential", ce.Credential)
		c.notify.Warn(noticeOr(ce.Notice, err))
	case errors.As(err, &pe):
		c.log.Error("map_mount_load_failed", "variant", string(pe.Variant), "err", pe.Err)
		c.notify.Error(noticeOr(pe.Notice, err))
	default:
		c.log.Error("map_mount_failed", "err", err)
		c.notify.Error(err.Error())
	}
}

func noticeOr(notice string, err error) string {
	if notice != "" {
		return notice
	}
	return err.Error()
}

// 文档注释：渲染要素
// 背景：逐要素分派为覆盖物并整体替换；未保留视图时，有覆盖物则下一拍适配视野并回读相机，无覆盖物则回到默认视图。
// 约束：单个要素创建失败（含 panic）只跳过该要素；features 只读，回调拿到的是切片内原始要素的指针。
func (c *Controller) RenderFeatures(features []feature.Feature, opts RenderOptions) (RenderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := RenderResult{Features: len(features)}
	if c.state == StateTornDown {
		return res, ErrTornDown
	}
	if c.state != StateMounted || c.adapter == nil {
		return res, ErrNotMounted
	}
	ad := c.adapter
	c.onClick = opts.OnFeatureClick
	var ovs []Overlay
	for i := range features {
		shapes := ShapesFor(&features[i])
		if len(shapes) == 0 {
			res.Skipped++
			continue
		}
		for _, s := range shapes {
			o, err := createSafe(ad, s)
			if err != nil {
				res.Failed++
				metrics.FeaturesSkippedTotal.WithLabelValues("overlay").Inc()
				c.log.Warn("overlay_create_failed", "id", features[i].ID, "kind", s.Kind.String(), "part", s.Part, "err", err)
				continue
			}
			ovs = append(ovs, o)
		}
	}
	if err := ad.Overlays().ReplaceAll(ovs); err != nil {
		return res, fmt.Errorf("replace overlays: %w", err)
	}
	res.Overlays = len(ovs)
	variant := string(ad.Variant())
	metrics.RenderTotal.WithLabelValues(variant).Inc()
	metrics.OverlaysPerRender.WithLabelValues(variant).Observe(float64(len(ovs)))
	c.renders++
	switch {
	case opts.PreserveView:
		c.syncLocked()
	case len(ovs) == 0:
		def := DefaultViewState()
		ad.SetView(def)
		c.setView(def)
	default:
		gen, seq := c.gen, c.renders
		res.Fitted = true
		c.sched.Defer(func() { c.fitAfterRender(gen, seq, ovs) })
	}
	c.log.Debug("render_done", "variant", variant, "features", res.Features, "overlays", res.Overlays, "skipped", res.Skipped, "failed", res.Failed, "preserve_view", opts.PreserveView)
	return res, nil
}

func createSafe(ad Adapter, s Shape) (o Overlay, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("create overlay panic: %v", r)
		}
	}()
	o, err = ad.CreateOverlay(s)
	if err == nil && o == nil {
		err = errors.New("create overlay: nil overlay")
	}
	return o, err
}

// fitAfterRender：被更新的渲染或重新挂载取代时放弃
func (c *Controller) fitAfterRender(gen, seq uint64, ovs []Overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || seq != c.renders || c.adapter == nil || c.state != StateMounted {
		return
	}
	c.adapter.Fit(ovs, c.fit)
	c.syncLocked()
}

// ShowPopup：在锚点处显示弹窗，已显示时原地替换
func (c *Controller) ShowPopup(content string, anchor orb.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return ErrNotMounted
	}
	if !c.adapter.Popup().Show(content, anchor) {
		return ErrNotMounted
	}
	return nil
}

func (c *Controller) HidePopup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter != nil {
		c.adapter.Popup().Hide()
	}
}

// UpdateViewState：从实时相机回读视图状态；非有限值被忽略，返回当前状态
func (c *Controller) UpdateViewState() (ViewState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return c.ViewState(), ErrNotMounted
	}
	c.syncLocked()
	return c.ViewState(), nil
}

// 文档注释：把视图状态应用到实时相机，无效时使用默认视图
// 约束：相机按提供方的限制钳制（高德缩放 2..20；天地图缩放 3..18，纬度限于 Web Mercator 的 ±85.0511）；
// 超出限制的视图状态不会原样往返，相机事件或 UpdateViewState 会把钳制后的值写回。
func (c *Controller) ApplyViewState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return ErrNotMounted
	}
	c.adapter.SetView(c.ViewState().OrDefault())
	return nil
}

func (c *Controller) ViewState() ViewState {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	return c.view
}

// SetViewState：写入视图状态槽（不移动相机）；非有限值被拒绝
func (c *Controller) SetViewState(v ViewState) bool {
	if !v.Valid() {
		metrics.ViewRejectedTotal.Inc()
		return false
	}
	c.setView(v)
	return true
}

func (c *Controller) setView(v ViewState) {
	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()
}

func (c *Controller) syncLocked() {
	v, ok := c.adapter.View()
	if !ok {
		return
	}
	if !v.Valid() {
		metrics.ViewRejectedTotal.Inc()
		return
	}
	c.setView(v)
}

func (c *Controller) onCamera(v ViewState) {
	if !v.Valid() {
		metrics.ViewRejectedTotal.Inc()
		c.log.Debug("camera_view_rejected", "center", v.Center, "zoom", v.Zoom)
		return
	}
	c.setView(v)
}

// onHit：只在 click 持有 mu 的分发过程中被适配器同步调用
func (c *Controller) onHit(o Overlay, at orb.Point) {
	c.pending = &hit{f: o.Feature(), at: at}
}

func (c *Controller) onMiss() {
	c.log.Debug("map_click_miss")
}

func (c *Controller) click(px orb.Point) {
	c.mu.Lock()
	if c.state != StateMounted || c.handle == nil {
		c.mu.Unlock()
		return
	}
	variant := string(c.adapter.Variant())
	c.pending = nil
	c.handle.Click(px)
	h := c.pending
	c.pending = nil
	cb := c.onClick
	c.mu.Unlock()
	if h == nil {
		metrics.ClickTotal.WithLabelValues(variant, "miss").Inc()
		return
	}
	metrics.ClickTotal.WithLabelValues(variant, "hit").Inc()
	if cb != nil {
		cb(h.f, h.at)
	}
}

// 文档注释：切换底图
// 背景：同一提供方的不同样式在适配器支持时原地换层；换提供方时先完整释放旧适配器，再由注册表构造新适配器并挂载到同一表面，只携带视图状态。
// 约束：未挂载时只记录选择，下一次 Mount 生效；挂载中途切换会使进行中的挂载失效。
func (c *Controller) SetBaseMap(ctx context.Context, value string) error {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return ErrTornDown
	}
	b, _, ok := c.reg.Lookup(value)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownBaseMap, value)
	}
	prev := c.baseMap
	c.baseMap = b
	switch {
	case c.state == StateUnmounted:
		c.mu.Unlock()
		return nil
	case c.state == StateMounted && prev.Variant == b.Variant:
		if prev.Value == b.Value {
			c.mu.Unlock()
			return nil
		}
		if r, ok := c.adapter.(Restyler); ok {
			err := r.Restyle(b.Style)
			c.mu.Unlock()
			c.log.Info("basemap_restyled", "variant", string(b.Variant), "basemap", b.Value, "err", err)
			return err
		}
	}
	s := c.surface
	c.mu.Unlock()
	c.log.Info("basemap_switch", "from", prev.Value, "to", b.Value)
	if s == nil {
		return nil
	}
	_, err := c.Mount(ctx, s)
	return err
}

func (c *Controller) BaseMap() BaseMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseMap
}

// BaseMaps：当前凭据下的可选底图
func (c *Controller) BaseMaps() []BaseMap {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	return c.reg.Options(creds)
}

// SetCredentials：更新凭据，下一次 Mount 生效；当前底图在新凭据下不可用时回到默认底图
func (c *Controller) SetCredentials(creds config.Credentials) {
	c.mu.Lock()
	c.creds = creds
	if c.baseMap.Value != "" && c.state != StateMounted {
		available := false
		for _, b := range c.reg.Options(creds) {
			if b.Value == c.baseMap.Value {
				available = true
				break
			}
		}
		if !available {
			c.baseMap = BaseMap{}
		}
	}
	c.mu.Unlock()
	c.log.Info("credentials_updated", "client_key", creds.HasClientKey(), "tile_key", creds.HasTileServiceKey())
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Adapter：当前挂载的适配器，未挂载时为 nil
func (c *Controller) Adapter() Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter
}

// OverlayCount：当前覆盖物数量
func (c *Controller) OverlayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter == nil {
		return 0
	}
	return c.adapter.Overlays().Len()
}

// 文档注释：释放控制器
// 背景：无条件进入 TornDown，控制器不可复用；进行中的挂载在完成时自行释放。
// 约束：幂等；视图状态在释放前回读，配置了 ViewStore 时写回存储，写回失败只记录日志。
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.releaseLocked()
	c.state = StateTornDown
	c.onClick = nil
	c.mu.Unlock()
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.store.Save(ctx, c.storeKey, c.ViewState()); err != nil {
			c.log.Warn("view_store_save_failed", "key", c.storeKey, "err", err)
		}
	}
	c.log.Info("map_torn_down")
}

// boundHandle：宿主持有的句柄，始终路由到当前挂载的适配器，切换底图后仍然有效
type boundHandle struct {
	c *Controller
}

func (h boundHandle) Surface() Surface {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.surface
}

func (h boundHandle) Resize(width, height int) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.handle != nil {
		h.c.handle.Resize(width, height)
	}
}

func (h boundHandle) Click(px orb.Point) { h.c.click(px) }
