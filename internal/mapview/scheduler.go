package mapview

import (
	"sync"
	"time"
)

// 文档注释：延迟执行（下一拍）
// 背景：适配视野的动画与提供方内部布局异步完成，相机回读需要推迟到下一拍。
type Scheduler interface {
	Defer(fn func())
}

// AfterFunc：基于 time.AfterFunc 的调度器，零值即下一拍
type AfterFunc struct {
	Delay time.Duration
}

func (a AfterFunc) Defer(fn func()) { time.AfterFunc(a.Delay, fn) }

// 文档注释：宿主驱动的任务队列
// 背景：宿主事件循环或测试在合适时机调用 Drain 执行积压任务。
// 约束：Drain 执行期间新入队的任务在同一次 Drain 中执行。
type Queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *Queue) Defer(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Drain：执行全部积压任务，返回执行数量
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return n
		}
		for _, fn := range fns {
			fn()
			n++
		}
	}
}

// Pending：积压任务数
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}
