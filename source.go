// Source execution for Bonsai
// 订阅执行流程与操作符使用的中继发射器
package bonsai

import (
	"log/slog"
	"sync/atomic"
)

// ============================================================================
// 订阅执行
// ============================================================================

// schedulers 源的调度器配置，未设置时在订阅时解析为Immediate
type schedulers struct {
	subscribeOn Scheduler
	observeOn   Scheduler
}

func orImmediate(s Scheduler) Scheduler {
	if s == nil {
		return immediate
	}
	return s
}

// execute 在订阅调度器上分发onStart并运行生产者
//
// 生产者返回的应用错误在未终止时作为OnError转发给消费者。
// 协议错误从不转发，只记录日志。生产者panic不被捕获。
func execute[T any](on Scheduler, d *dispatcher[T], produce func() error) {
	on.Execute(func() {
		log := logger().With(
			slog.String("subscription", d.sub.id),
			slog.String("source", d.kind.String()),
		)

		if err := d.dispatchStart(); err != nil {
			log.Warn("subscription already started", slog.Any("error", err))
			return
		}
		log.Debug("subscription started")

		err := produce()
		switch {
		case err == nil:
		case IsProtocolViolation(err):
			log.Warn("producer returned protocol violation", slog.Any("error", err))
		case !d.forwardError(err):
			log.Warn("producer error dropped after terminal event", slog.Any("error", err))
		}
	})
}

// ============================================================================
// 中继发射器
// ============================================================================

// relay 操作符交给上游生产者的发射器
//
// 上游的元素交给next处理，终止事件交给complete和fail。
// 上游自身的协议仍被校验；操作符调用stop提前结束后，上游的后续发射被静默接受。
type relay[T any] struct {
	kind     sourceKind
	down     CompletableEmitter
	next     func(item T) error
	complete func() error
	fail     func(err error) error

	items      atomic.Int32
	terminated atomic.Bool
	cut        atomic.Bool
}

func newRelay[T any](kind sourceKind, down CompletableEmitter, next func(item T) error) *relay[T] {
	return &relay[T]{
		kind:     kind,
		down:     down,
		next:     next,
		complete: down.OnComplete,
		fail:     down.OnError,
	}
}

func (r *relay[T]) reject(op string, reason error) error {
	return &ProtocolError{Op: op, Source: r.kind.String(), Reason: reason}
}

func (r *relay[T]) OnNext(item T) error { return r.emit("OnNext", item) }

func (r *relay[T]) OnItem(item T) error { return r.emit("OnItem", item) }

func (r *relay[T]) emit(op string, item T) error {
	if r.terminated.Load() {
		return r.reject(op, ErrAlreadyTerminated)
	}
	if r.kind == kindSingle && r.items.Add(1) > 1 {
		return r.reject(op, ErrItemAlreadyEmitted)
	}
	if r.cut.Load() {
		return nil
	}
	return r.next(item)
}

func (r *relay[T]) OnComplete() error {
	if r.terminated.Swap(true) {
		return r.reject("OnComplete", ErrAlreadyTerminated)
	}
	if r.cut.Load() {
		return nil
	}
	return r.complete()
}

func (r *relay[T]) OnError(err error) error {
	if r.terminated.Swap(true) {
		return r.reject("OnError", ErrAlreadyTerminated)
	}
	if r.cut.Load() {
		return nil
	}
	return r.fail(err)
}

func (r *relay[T]) IsUnsubscribed() bool {
	return r.cut.Load() || r.terminated.Load() || r.down.IsUnsubscribed()
}

// stop 提前结束上游
func (r *relay[T]) stop() {
	r.cut.Store(true)
}

// forward 把内层生产者返回的应用错误转发到down，协议错误原样返回
func forward(down CompletableEmitter, err error) error {
	if err == nil || IsProtocolViolation(err) {
		return err
	}
	if rejected := down.OnError(err); rejected != nil {
		logger().Warn("inner producer error dropped after terminal event", slog.Any("error", err))
	}
	return nil
}
