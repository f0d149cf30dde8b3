// Dispatch guard for Bonsai
// 分发守卫：校验发射顺序，并把每个回调投递到观察调度器
package bonsai

import (
	"sync/atomic"
)

// sourceKind 源类型
type sourceKind int

const (
	kindStream sourceKind = iota
	kindSingle
	kindCompletable
)

func (k sourceKind) String() string {
	switch k {
	case kindStream:
		return "Stream"
	case kindSingle:
		return "Single"
	case kindCompletable:
		return "Completable"
	default:
		return "Unknown"
	}
}

// 发射状态：未开始 -> 已开始 -> 已终止
const (
	stateNotStarted int32 = iota
	stateStarted
	stateTerminated
)

// dispatcher 单次订阅的分发守卫
//
// 校验在生产者goroutine上同步完成，通过校验的回调按校验顺序逐个提交到
// 观察调度器。取消标志只在提交前检查，已经提交的回调不会被撤回。
type dispatcher[T any] struct {
	kind      sourceKind
	target    target[T]
	sub       *subscription
	scheduler Scheduler

	state atomic.Int32
	items atomic.Int32
}

func newDispatcher[T any](kind sourceKind, t target[T], sub *subscription, scheduler Scheduler) *dispatcher[T] {
	return &dispatcher[T]{
		kind:      kind,
		target:    t,
		sub:       sub,
		scheduler: scheduler,
	}
}

func (d *dispatcher[T]) reject(op string, reason error) error {
	return &ProtocolError{Op: op, Source: d.kind.String(), Reason: reason}
}

// stateReason 当前状态不是已开始时的拒绝原因
func stateReason(state int32) error {
	if state == stateNotStarted {
		return ErrNotStarted
	}
	return ErrAlreadyTerminated
}

// post 未取消时把回调提交到观察调度器
func (d *dispatcher[T]) post(callback func()) {
	if d.sub.IsUnsubscribed() {
		return
	}
	d.scheduler.Execute(callback)
}

func (d *dispatcher[T]) dispatchStart() error {
	if !d.state.CompareAndSwap(stateNotStarted, stateStarted) {
		return d.reject("OnStart", ErrAlreadyStarted)
	}
	d.post(d.target.onStart)
	return nil
}

func (d *dispatcher[T]) dispatchItem(op string, item T) error {
	if state := d.state.Load(); state != stateStarted {
		return d.reject(op, stateReason(state))
	}
	if d.kind == kindSingle && d.items.Add(1) > 1 {
		return d.reject(op, ErrItemAlreadyEmitted)
	}
	d.post(func() {
		d.target.onItem(item)
	})
	return nil
}

func (d *dispatcher[T]) dispatchComplete() error {
	if !d.state.CompareAndSwap(stateStarted, stateTerminated) {
		return d.reject("OnComplete", stateReason(d.state.Load()))
	}
	d.post(d.target.onComplete)
	return nil
}

func (d *dispatcher[T]) dispatchError(err error) error {
	if !d.state.CompareAndSwap(stateStarted, stateTerminated) {
		return d.reject("OnError", stateReason(d.state.Load()))
	}
	d.post(func() {
		d.target.onError(err)
	})
	return nil
}

// forwardError 框架转发生产者返回的错误，已终止时返回false
func (d *dispatcher[T]) forwardError(err error) bool {
	return d.dispatchError(err) == nil
}

func (d *dispatcher[T]) isUnsubscribed() bool {
	return d.sub.IsUnsubscribed()
}
