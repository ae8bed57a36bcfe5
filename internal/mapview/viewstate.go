// 包 mapview：与底图提供方无关的要素渲染与视图状态同步层
package mapview

import (
	"math"

	"github.com/paulmach/orb"

	"mapview/internal/geo"
)

// DefaultCenter 默认中心（成都）
var DefaultCenter = orb.Point{104.0668, 30.5728}

// DefaultZoom 默认缩放级别
const DefaultZoom = 4.0

// 文档注释：视图状态（中心经纬度 + 缩放级别）
// 背景：跨底图切换与重新挂载保留相机位置；JSON 形态为 {"center":[lng,lat],"zoom":z}。
// 约束：写入前必须校验有限性，NaN/Inf 永不落入状态槽。
type ViewState struct {
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
}

func DefaultViewState() ViewState {
	return ViewState{Center: DefaultCenter, Zoom: DefaultZoom}
}

// Valid：中心与缩放均为有限数
func (v ViewState) Valid() bool {
	return geo.Finite(v.Center[0], v.Center[1], v.Zoom)
}

// OrDefault：无效时回退到默认视图
func (v ViewState) OrDefault() ViewState {
	if v.Valid() {
		return v
	}
	return DefaultViewState()
}

// Near：在容差内相等
func (v ViewState) Near(o ViewState, tol float64) bool {
	return math.Abs(v.Center[0]-o.Center[0]) <= tol &&
		math.Abs(v.Center[1]-o.Center[1]) <= tol &&
		math.Abs(v.Zoom-o.Zoom) <= tol
}
