// Completable implementation for Bonsai
// 无返回值异步操作，只发射完成或错误信号
package bonsai

import (
	"context"
)

// ============================================================================
// Completable 核心实现
// ============================================================================

// CompletableOnSubscribe 无值源的生产者
type CompletableOnSubscribe func(emitter CompletableEmitter) error

// Completable 只有终止事件的源
type Completable struct {
	schedulers
	onSubscribe CompletableOnSubscribe
}

// CreateCompletable 使用生产者创建Completable
func CreateCompletable(onSubscribe CompletableOnSubscribe) *Completable {
	return &Completable{onSubscribe: onSubscribe}
}

// SubscribeOn 返回在scheduler上运行生产者的副本
func (c *Completable) SubscribeOn(scheduler Scheduler) *Completable {
	cp := *c
	cp.subscribeOn = scheduler
	return &cp
}

// ObserveOn 返回在scheduler上投递回调的副本
func (c *Completable) ObserveOn(scheduler Scheduler) *Completable {
	cp := *c
	cp.observeOn = scheduler
	return &cp
}

// Subscribe 无消费者订阅
func (c *Completable) Subscribe() Subscription {
	return c.subscribe(discard[struct{}]{})
}

// SubscribeObserver 使用消费者订阅
func (c *Completable) SubscribeObserver(observer CompletableObserver) Subscription {
	if observer == nil {
		return c.Subscribe()
	}
	return c.subscribe(completableTarget{o: observer})
}

// SubscribeWithCallbacks 使用回调函数订阅
func (c *Completable) SubscribeWithCallbacks(onComplete func(), onError func(error)) Subscription {
	return c.SubscribeObserver(CompletableCallbacks{
		Complete: onComplete,
		Error:    onError,
	})
}

func (c *Completable) subscribe(t target[struct{}]) Subscription {
	sub := newSubscription()
	d := newDispatcher(kindCompletable, t, sub, orImmediate(c.observeOn))
	execute(orImmediate(c.subscribeOn), d, func() error {
		return c.onSubscribe(completableEmitter{d: d})
	})
	return sub
}

// ============================================================================
// Completable 工厂函数
// ============================================================================

// CompleteCompletable 创建直接完成的Completable
func CompleteCompletable() *Completable {
	return CreateCompletable(func(e CompletableEmitter) error {
		return e.OnComplete()
	})
}

// CompletableError 创建直接以err结束的Completable
func CompletableError(err error) *Completable {
	return CreateCompletable(func(e CompletableEmitter) error {
		return e.OnError(err)
	})
}

// CompletableFromFunc 在订阅调度器上调用fn，fn返回nil时完成
func CompletableFromFunc(fn func() error) *Completable {
	return CreateCompletable(func(e CompletableEmitter) error {
		if err := fn(); err != nil {
			return err
		}
		return e.OnComplete()
	})
}

// ============================================================================
// 组合操作符
// ============================================================================

// AndThen 完成后运行next，next的生产者在同一次订阅中同步运行
func (c *Completable) AndThen(next *Completable) *Completable {
	return &Completable{schedulers: c.schedulers, onSubscribe: func(e CompletableEmitter) error {
		r := newRelay[struct{}](kindCompletable, e, nil)
		r.complete = func() error {
			return forward(e, next.onSubscribe(e))
		}
		return c.onSubscribe(r)
	}}
}

// AndThenStream 完成后运行next并转发其元素
func AndThenStream[T any](c *Completable, next *Stream[T]) *Stream[T] {
	return &Stream[T]{schedulers: c.schedulers, onSubscribe: func(e StreamEmitter[T]) error {
		r := newRelay[struct{}](kindCompletable, e, nil)
		r.complete = func() error {
			return forward(e, next.onSubscribe(e))
		}
		return c.onSubscribe(r)
	}}
}

// ============================================================================
// 阻塞操作
// ============================================================================

// BlockingAwait 订阅并等待完成，返回错误事件携带的错误
func (c *Completable) BlockingAwait(ctx context.Context) error {
	done := make(chan error, 1)

	sub := c.SubscribeObserver(CompletableCallbacks{
		Complete: func() { done <- nil },
		Error:    func(err error) { done <- err },
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	}
}
