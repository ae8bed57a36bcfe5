package mapview

import (
	"sync"

	"mapview/internal/logger"
)

// 文档注释：覆盖物生命周期管理
// 背景：每次渲染整体替换，不做增量更新；清空时先摘除（Detach），不支持摘除的类型再销毁（Destroy）。
// 约束：
// - 每个被跟踪的覆盖物恰好释放一次；空集合上的 Clear 不触碰任何覆盖物；
// - 清空时隐藏弹窗（锚点可能指向刚移除的覆盖物），但不销毁弹窗；
// - 单个覆盖物释放失败不影响其余覆盖物。
type OverlayManager struct {
	mu    sync.Mutex
	items []Overlay
	add   func([]Overlay) error
	popup *PopupController
}

func NewOverlayManager(add func([]Overlay) error, popup *PopupController) *OverlayManager {
	return &OverlayManager{add: add, popup: popup}
}

// ReplaceAll：清空后一次性批量添加
func (m *OverlayManager) ReplaceAll(ovs []Overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	if len(ovs) == 0 {
		return nil
	}
	if m.add != nil {
		if err := m.add(ovs); err != nil {
			for _, o := range ovs {
				release(o)
			}
			return err
		}
	}
	m.items = append([]Overlay(nil), ovs...)
	return nil
}

func (m *OverlayManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *OverlayManager) clearLocked() {
	if m.popup != nil {
		m.popup.Hide()
	}
	if len(m.items) == 0 {
		return
	}
	items := m.items
	m.items = nil
	for _, o := range items {
		release(o)
	}
	logger.For("overlays").Debug("overlays_cleared", "count", len(items))
}

func (m *OverlayManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Overlays：当前覆盖物快照
func (m *OverlayManager) Overlays() []Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Overlay(nil), m.items...)
}

func release(o Overlay) {
	defer func() {
		if r := recover(); r != nil {
			logger.For("overlays").Warn("overlay_release_panic", "kind", o.Kind().String(), "panic", r)
		}
	}()
	if d, ok := o.(Detacher); ok {
		d.Detach()
		return
	}
	if d, ok := o.(Destroyer); ok {
		d.Destroy()
	}
}
