// Scheduler implementations for Bonsai
// 实现调度器系统，支持不同的执行策略
package bonsai

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，按自身策略执行任务
// 任务中的panic不会被调度器捕获
type Scheduler interface {
	// Execute 提交一个任务，任务最终必须被执行
	Execute(task func())
}

// SchedulerFunc 将普通函数适配为Scheduler
type SchedulerFunc func(task func())

// Execute 调用被包装的函数
func (f SchedulerFunc) Execute(task func()) {
	f(task)
}

// FromErrGroup 将errgroup.Group适配为Scheduler，任务通过g.Go执行
// 设置了SetLimit的group在达到上限时Execute会阻塞
func FromErrGroup(g *errgroup.Group) Scheduler {
	return SchedulerFunc(func(task func()) {
		g.Go(func() error {
			task()
			return nil
		})
	})
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

var immediate Scheduler = immediateScheduler{}

// Immediate 返回在调用方goroutine中同步执行任务的调度器
func Immediate() Scheduler {
	return immediate
}

// Execute 立即执行任务
func (immediateScheduler) Execute(task func()) {
	task()
}

// ============================================================================
// 计算调度器 - Compute Scheduler
// ============================================================================

// ComputeScheduler 使用固定数量的worker执行任务
type ComputeScheduler struct {
	workers int
	tasks   chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	// pending 队列满时仍在等待入队的任务
	pending sync.WaitGroup
	// mu 让Dispose等待已通过检查的Execute完成登记
	mu sync.RWMutex
	*baseDisposable
}

// NewComputeScheduler 创建计算调度器，workers<=0时使用CPU核数
func NewComputeScheduler(workers, queueSize int) *ComputeScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &ComputeScheduler{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	// 停止所有worker，未执行的任务被丢弃
	s.baseDisposable = newBaseDisposable(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
		s.pending.Wait()
		s.wg.Wait()
	})

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Execute 提交任务到worker池，从不阻塞调用方
// 队列满时由辅助goroutine等待入队，此时不保证提交顺序
func (s *ComputeScheduler) Execute(task func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.IsDisposed() {
		logger().Warn("task dropped by disposed scheduler", slog.String("scheduler", "compute"))
		return
	}

	select {
	case s.tasks <- task:
		return
	case <-s.ctx.Done():
		return
	default:
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		select {
		case s.tasks <- task:
		case <-s.ctx.Done():
		}
	}()
}

// worker 工作goroutine
func (s *ComputeScheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			task()
		}
	}
}

// Workers 返回worker数量
func (s *ComputeScheduler) Workers() int {
	return s.workers
}

// ============================================================================
// IO调度器 - IO Scheduler
// ============================================================================

// IOScheduler 每个任务一个goroutine，并发数由信号量限制
type IOScheduler struct {
	sem    *semaphore.Weighted
	limit  int64
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	*baseDisposable
}

// NewIOScheduler 创建IO调度器，maxConcurrency<=0时不限制并发
func NewIOScheduler(maxConcurrency int) *IOScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &IOScheduler{ctx: ctx, cancel: cancel}
	// 丢弃等待中的任务并等待运行中的任务结束
	s.baseDisposable = newBaseDisposable(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()
		s.wg.Wait()
	})
	if maxConcurrency > 0 {
		s.limit = int64(maxConcurrency)
		s.sem = semaphore.NewWeighted(s.limit)
	}
	return s
}

// Execute 在新goroutine中执行任务，超过并发上限的任务在goroutine内等待
func (s *IOScheduler) Execute(task func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.IsDisposed() {
		logger().Warn("task dropped by disposed scheduler", slog.String("scheduler", "io"))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)
		}
		task()
	}()
}

// Limit 返回并发上限，0表示不限制
func (s *IOScheduler) Limit() int {
	return int(s.limit)
}
