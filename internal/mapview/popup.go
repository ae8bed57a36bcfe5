package mapview

import (
	"sync"

	"github.com/paulmach/orb"
)

// 文档注释：原生弹窗句柄
type PopupHandle interface {
	SetContent(content string)
	Open(anchor orb.Point)
	Close()
	Release()
}

// 文档注释：单槽弹窗控制器
// 背景：每个适配器一个弹窗；Show 原地替换内容与锚点，Hide 只清锚点保留句柄复用。
// 约束：句柄按需通过 factory 创建；Release 后再次 Show 会重新创建（重新挂载后弹窗缺失时补挂）。factory 返回 nil 表示地图不可用，Show 不生效。
type PopupController struct {
	mu      sync.Mutex
	factory func() PopupHandle
	handle  PopupHandle
	content string
	anchor  *orb.Point
}

func NewPopupController(factory func() PopupHandle) *PopupController {
	return &PopupController{factory: factory}
}

func (p *PopupController) Show(content string, anchor orb.Point) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil && p.factory != nil {
		p.handle = p.factory()
	}
	if p.handle == nil {
		return false
	}
	p.handle.SetContent(content)
	p.handle.Open(anchor)
	p.content = content
	a := anchor
	p.anchor = &a
	return true
}

func (p *PopupController) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.anchor == nil {
		return
	}
	if p.handle != nil {
		p.handle.Close()
	}
	p.anchor = nil
}

// Release：释放原生句柄，幂等
func (p *PopupController) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.handle
	p.handle = nil
	p.anchor = nil
	if h == nil {
		return
	}
	defer func() { _ = recover() }()
	h.Close()
	h.Release()
}

func (p *PopupController) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anchor != nil
}

func (p *PopupController) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

func (p *PopupController) Anchor() (orb.Point, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.anchor == nil {
		return orb.Point{}, false
	}
	return *p.anchor, true
}
