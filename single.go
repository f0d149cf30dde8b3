// Single implementation for Bonsai
// 单值源：完成前最多发射一个元素
package bonsai

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Single 核心实现
// ============================================================================

// SingleOnSubscribe 单值源的生产者
type SingleOnSubscribe[T any] func(emitter SingleEmitter[T]) error

// Single 发射零个或一个元素然后完成的源，第二次OnItem会被拒绝
type Single[T any] struct {
	schedulers
	onSubscribe SingleOnSubscribe[T]
}

// CreateSingle 使用生产者创建Single
func CreateSingle[T any](onSubscribe SingleOnSubscribe[T]) *Single[T] {
	return &Single[T]{onSubscribe: onSubscribe}
}

// SubscribeOn 返回在scheduler上运行生产者的副本
func (s *Single[T]) SubscribeOn(scheduler Scheduler) *Single[T] {
	c := *s
	c.subscribeOn = scheduler
	return &c
}

// ObserveOn 返回在scheduler上投递回调的副本
func (s *Single[T]) ObserveOn(scheduler Scheduler) *Single[T] {
	c := *s
	c.observeOn = scheduler
	return &c
}

// Subscribe 无消费者订阅
func (s *Single[T]) Subscribe() Subscription {
	return s.subscribe(discard[T]{})
}

// SubscribeObserver 使用消费者订阅
func (s *Single[T]) SubscribeObserver(observer SingleObserver[T]) Subscription {
	if observer == nil {
		return s.Subscribe()
	}
	return s.subscribe(singleTarget[T]{o: observer})
}

// SubscribeWithCallbacks 使用回调函数订阅
func (s *Single[T]) SubscribeWithCallbacks(onItem func(T), onError func(error), onComplete func()) Subscription {
	return s.SubscribeObserver(SingleCallbacks[T]{
		Item:     onItem,
		Error:    onError,
		Complete: onComplete,
	})
}

func (s *Single[T]) subscribe(t target[T]) Subscription {
	sub := newSubscription()
	d := newDispatcher(kindSingle, t, sub, orImmediate(s.observeOn))
	execute(orImmediate(s.subscribeOn), d, func() error {
		return s.onSubscribe(singleEmitter[T]{d: d})
	})
	return sub
}

// ============================================================================
// Single 工厂函数
// ============================================================================

// EmptySingle 不发射元素直接完成
func EmptySingle[T any]() *Single[T] {
	return CreateSingle(func(e SingleEmitter[T]) error {
		return e.OnComplete()
	})
}

// SingleOf 发射value后完成
func SingleOf[T any](value T) *Single[T] {
	return CreateSingle(func(e SingleEmitter[T]) error {
		if err := e.OnItem(value); err != nil {
			return err
		}
		return e.OnComplete()
	})
}

// SingleError 直接以err结束
func SingleError[T any](err error) *Single[T] {
	return CreateSingle(func(e SingleEmitter[T]) error {
		return e.OnError(err)
	})
}

// SingleFromFunc 在订阅调度器上调用fn，发射其结果或以其错误结束
func SingleFromFunc[T any](fn func() (T, error)) *Single[T] {
	return CreateSingle(func(e SingleEmitter[T]) error {
		v, err := fn()
		if err != nil {
			return err
		}
		if err := e.OnItem(v); err != nil {
			return err
		}
		return e.OnComplete()
	})
}

// ============================================================================
// 操作符
// ============================================================================

// MapSingle 转换元素，f返回错误时以该错误结束
func MapSingle[T, R any](s *Single[T], f func(T) (R, error)) *Single[R] {
	return &Single[R]{schedulers: s.schedulers, onSubscribe: func(e SingleEmitter[R]) error {
		var r *relay[T]
		r = newRelay(kindSingle, e, func(item T) error {
			v, err := f(item)
			if err != nil {
				r.stop()
				return forward(e, err)
			}
			return e.OnItem(v)
		})
		return s.onSubscribe(r)
	}}
}

// DefaultIfEmpty 上游没有元素就完成时发射value
func (s *Single[T]) DefaultIfEmpty(value T) *Single[T] {
	return &Single[T]{schedulers: s.schedulers, onSubscribe: func(e SingleEmitter[T]) error {
		var emitted atomic.Bool
		r := newRelay(kindSingle, e, func(item T) error {
			emitted.Store(true)
			return e.OnItem(item)
		})
		r.complete = func() error {
			if !emitted.Load() {
				if err := e.OnItem(value); err != nil {
					return err
				}
			}
			return e.OnComplete()
		}
		return s.onSubscribe(r)
	}}
}

// ToStream 转换为Stream，元素作为OnNext发射
func (s *Single[T]) ToStream() *Stream[T] {
	return &Stream[T]{schedulers: s.schedulers, onSubscribe: func(e StreamEmitter[T]) error {
		return s.onSubscribe(newRelay(kindSingle, e, e.OnNext))
	}}
}

// ============================================================================
// 阻塞操作
// ============================================================================

// BlockingGet 订阅并等待完成，ok表示是否收到了元素
func (s *Single[T]) BlockingGet(ctx context.Context) (T, bool, error) {
	var (
		mu  sync.Mutex
		got T
		has bool
	)
	done := make(chan error, 1)

	sub := s.SubscribeObserver(SingleCallbacks[T]{
		Item: func(item T) {
			mu.Lock()
			got, has = item, true
			mu.Unlock()
		},
		Complete: func() { done <- nil },
		Error:    func(err error) { done <- err },
	})

	var zero T
	select {
	case err := <-done:
		if err != nil {
			return zero, false, err
		}
		mu.Lock()
		defer mu.Unlock()
		return got, has, nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return zero, false, ctx.Err()
	}
}
