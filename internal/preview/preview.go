// 包 preview：预览宿主；组装两种底图提供方与控制器，并通过 HTTP 暴露渲染、点击、切换底图与视图状态
package preview

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"mapview/internal/amap"
	"mapview/internal/feature"
	"mapview/internal/logger"
	"mapview/internal/mapview"
	"mapview/internal/tianditu"
)

// 文档注释：构建底图注册表
// 背景：天地图先于高德注册，两种 Key 都存在时默认底图为天地图矢量。
func NewRegistry(amapOpts amap.Options) *mapview.Registry {
	r := mapview.NewRegistry()
	r.Register(tianditu.Provider())
	r.Register(amap.Provider(amapOpts))
	return r
}

// TileLister：能枚举可见瓦片的适配器
type TileLister interface {
	VisibleTiles() []tianditu.Tile
}

// Options：预览宿主参数
type Options struct {
	Controller *mapview.Controller
	Surface    mapview.Surface
	Source     feature.Source
}

// ClickResult：一次点击的结果
type ClickResult struct {
	Hit     bool             `json:"hit"`
	Feature *feature.Feature `json:"feature,omitempty"`
	At      *orb.Point       `json:"at,omitempty"`
}

// 文档注释：预览宿主
// 背景：持有一个绘制表面与控制器返回的句柄；渲染的要素切片由宿主持有，点击回调拿到的指针在下一次渲染前保持有效。
// 约束：clickMu 串行化点击，回调在控制器释放锁之后执行，回调内可以显示弹窗。
type Server struct {
	ctrl    *mapview.Controller
	surface mapview.Surface
	source  feature.Source
	log     *slog.Logger

	clickMu sync.Mutex

	mu       sync.Mutex
	handle   mapview.Handle
	features []feature.Feature
	last     *ClickResult
}

func New(o Options) *Server {
	src := o.Source
	if src == nil {
		src = feature.Static{}
	}
	return &Server{ctrl: o.Controller, surface: o.Surface, source: src, log: logger.For("preview")}
}

func (s *Server) Controller() *mapview.Controller { return s.ctrl }

// Mount：挂载（或重新挂载）到宿主表面
func (s *Server) Mount(ctx context.Context) error {
	h, err := s.ctrl.Mount(ctx, s.surface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	return nil
}

func (s *Server) currentHandle() (mapview.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil, mapview.ErrNotMounted
	}
	return s.handle, nil
}

// 文档注释：渲染
// 背景：fs 为 nil 时从要素来源拉取；点击要素时以属性表生成弹窗内容并在回调坐标处显示。
func (s *Server) Render(ctx context.Context, fs []feature.Feature, preserveView bool) (mapview.RenderResult, error) {
	if fs == nil {
		var err error
		fs, err = s.source.Features(ctx)
		if err != nil {
			return mapview.RenderResult{}, fmt.Errorf("load features from %s: %w", s.source.Name(), err)
		}
	}
	s.mu.Lock()
	s.features = fs
	s.last = nil
	s.mu.Unlock()
	return s.ctrl.RenderFeatures(fs, mapview.RenderOptions{
		PreserveView:   preserveView,
		OnFeatureClick: s.onFeatureClick,
	})
}

func (s *Server) onFeatureClick(f *feature.Feature, at orb.Point) {
	p := at
	s.mu.Lock()
	s.last = &ClickResult{Hit: true, Feature: f, At: &p}
	s.mu.Unlock()
	if err := s.ctrl.ShowPopup(PopupContent(f), at); err != nil {
		s.log.Warn("popup_show_failed", "err", err)
	}
}

// Click：转发表面像素点击
func (s *Server) Click(px orb.Point) (ClickResult, error) {
	h, err := s.currentHandle()
	if err != nil {
		return ClickResult{}, err
	}
	s.clickMu.Lock()
	defer s.clickMu.Unlock()
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
	h.Click(px)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return ClickResult{}, nil
	}
	return *s.last, nil
}

// Resize：转发表面尺寸变化
func (s *Server) Resize(width, height int) error {
	h, err := s.currentHandle()
	if err != nil {
		return err
	}
	h.Resize(width, height)
	return nil
}

// Tiles：当前适配器的可见瓦片；不支持瓦片枚举时返回 false
func (s *Server) Tiles() ([]tianditu.Tile, bool) {
	tl, ok := s.ctrl.Adapter().(TileLister)
	if !ok {
		return nil, false
	}
	return tl.VisibleTiles(), true
}

// Close：释放控制器，幂等
func (s *Server) Close() {
	s.ctrl.Teardown()
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
}

// 文档注释：由要素属性生成弹窗 HTML
// 约束：属性按键名排序，键与值均做 HTML 转义；无属性时显示要素 ID。
func PopupContent(f *feature.Feature) string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<div class="map-popup">`)
	if len(f.Properties) == 0 {
		fmt.Fprintf(&b, "<div>%s</div>", html.EscapeString(fmt.Sprint(f.ID)))
	}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "<div><b>%s</b>: %s</div>", html.EscapeString(k), html.EscapeString(fmt.Sprint(f.Properties[k])))
	}
	b.WriteString("</div>")
	return b.String()
}

// notMounted：错误是否源自未挂载或已释放
func notMounted(err error) bool {
	return errors.Is(err, mapview.ErrNotMounted) || errors.Is(err, mapview.ErrTornDown)
}
