package mapview

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"mapview/internal/feature"
)

// Variant 底图提供方
type Variant string

const (
	VariantAMap     Variant = "amap"
	VariantTianditu Variant = "tianditu"
)

// 文档注释：宿主提供的绘制表面（相当于 DOM 容器）
type Surface interface {
	ID() string
	Size() (width, height int)
}

// Rect：固定尺寸的绘制表面
type Rect struct {
	Name          string
	Width, Height int
}

func (r Rect) ID() string       { return r.Name }
func (r Rect) Size() (int, int) { return r.Width, r.Height }

// 文档注释：挂载句柄，宿主据此协调尺寸变化并转发指针点击
// 约束：Click 的 px 为表面像素坐标，原点左上角。
type Handle interface {
	Surface() Surface
	Resize(width, height int)
	Click(px orb.Point)
}

// MountOptions：挂载参数；Style 为提供方内的底图样式
type MountOptions struct {
	View  ViewState
	Style string
}

// FitOptions：适配视野参数
type FitOptions struct {
	Padding  float64
	MaxZoom  float64
	Duration time.Duration
}

// DefaultFitOptions 留白 20px，最大缩放 14，动画不超过 300ms
var DefaultFitOptions = FitOptions{Padding: 20, MaxZoom: 14, Duration: 300 * time.Millisecond}

// MaxFitDuration 适配动画时长上限
const MaxFitDuration = 300 * time.Millisecond

// 文档注释：提供方原生覆盖物
// 背景：由一个 Shape 创建，Bound 为经纬度范围；释放能力通过 Detacher/Destroyer 按需实现。
type Overlay interface {
	Feature() *feature.Feature
	Kind() ShapeKind
	Bound() orb.Bound
}

// Detacher：可从地图上摘除的覆盖物
type Detacher interface{ Detach() }

// Destroyer：只能销毁的覆盖物
type Destroyer interface{ Destroy() }

// 文档注释：底图提供方适配器
// 背景：两种结构不同的 SDK 统一到同一调用点；实现由 Registry 按配置选择。
// 约束：
// - Mount 失败时不得持有任何原生资源；凭据缺失返回 *ConfigurationError，SDK 加载失败返回 *ProviderLoadError；
// - BindCameraChange 的回调在原生调用内同步触发，回调方只允许写视图状态槽；
// - Teardown 幂等，逐步尽力释放，不 panic。
type Adapter interface {
	Variant() Variant
	Mount(ctx context.Context, s Surface, opts MountOptions) (Handle, error)
	CreateOverlay(s Shape) (Overlay, error)
	AddOverlays(ovs []Overlay) error
	Fit(ovs []Overlay, opts FitOptions)
	View() (ViewState, bool)
	SetView(v ViewState)
	BindCameraChange(fn func(ViewState))
	UnbindCameraChange()
	BindClick(onHit func(o Overlay, at orb.Point), onMiss func())
	Overlays() *OverlayManager
	Popup() *PopupController
	Teardown()
}

// Restyler：已挂载时原地切换底图样式的能力
type Restyler interface {
	Restyle(style string) error
}

// ClampFit：补齐适配参数缺省值并截断动画时长
func ClampFit(o FitOptions) FitOptions {
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = DefaultFitOptions.MaxZoom
	}
	if o.Duration < 0 || o.Duration > MaxFitDuration {
		o.Duration = MaxFitDuration
	}
	return o
}

// BoundOf：覆盖物经纬度范围的并集
func BoundOf(ovs []Overlay) (orb.Bound, bool) {
	if len(ovs) == 0 {
		return orb.Bound{}, false
	}
	b := ovs[0].Bound()
	for _, o := range ovs[1:] {
		b = b.Union(o.Bound())
	}
	return b, true
}
