// Looper scheduler for Bonsai
// 单goroutine的FIFO执行上下文，用于主线程、当前线程和独立线程调度器
package bonsai

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"gopkg.in/tomb.v2"
)

// Looper 按提交顺序在单个goroutine上执行任务
//
// Looper可以由专用goroutine托管（Start），也可以由调用方托管（Run或Drain）。
// 同一时刻只能有一个goroutine托管它。Execute从不阻塞。停止后排队的任务被丢弃。
type Looper struct {
	name string

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	start   sync.Once
	started atomic.Bool
	t       tomb.Tomb
}

// NewLooper 创建一个未启动的Looper
func NewLooper(name string) *Looper {
	return &Looper{
		name: name,
		wake: make(chan struct{}, 1),
	}
}

// Name 返回Looper名称
func (l *Looper) Name() string {
	return l.name
}

// Execute 将任务加入队列
func (l *Looper) Execute(task func()) {
	select {
	case <-l.t.Dying():
		logger().Warn("task dropped by stopped looper", slog.String("looper", l.name))
		return
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending 返回排队中的任务数
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Drain 在调用方goroutine上执行所有排队任务，包括执行期间新加入的任务，
// 返回执行的任务数
func (l *Looper) Drain() int {
	n := 0
	for {
		select {
		case <-l.t.Dying():
			return n
		default:
		}

		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
		n++
	}
}

// Run 在调用方goroutine上循环执行任务，直到ctx结束或Looper被停止
func (l *Looper) Run(ctx context.Context) error {
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.t.Dying():
			return nil
		case <-l.wake:
		}
	}
}

// Start 在专用goroutine上托管Looper，该goroutine锁定到一个OS线程
// 重复调用无效果
func (l *Looper) Start() *Looper {
	l.start.Do(func() {
		select {
		case <-l.t.Dying():
			return
		default:
		}
		l.started.Store(true)
		l.t.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			return l.Run(context.Background())
		})
	})
	return l
}

// Stop 停止Looper；由Start托管时等待托管goroutine退出
func (l *Looper) Stop() error {
	l.t.Kill(nil)
	var err error
	if l.started.Load() {
		err = l.t.Wait()
	}

	l.mu.Lock()
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		logger().Debug("looper stopped with pending tasks",
			slog.String("looper", l.name), slog.Int("dropped", dropped))
	}
	return err
}

// Dispose 实现Disposable
func (l *Looper) Dispose() {
	_ = l.Stop()
}

// IsDisposed 检查是否已停止
func (l *Looper) IsDisposed() bool {
	select {
	case <-l.t.Dying():
		return true
	default:
		return false
	}
}
