// Stream implementation for Bonsai
// 多值流：发射零个或多个元素，然后完成或出错
package bonsai

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Stream 核心实现
// ============================================================================

// StreamOnSubscribe 多值流的生产者，每次订阅调用一次
// 返回的非协议错误在未终止时作为OnError转发给消费者
type StreamOnSubscribe[T any] func(emitter StreamEmitter[T]) error

// Stream 多值流
// 除调度器配置外不可变，可以被订阅多次，每次订阅独立执行
type Stream[T any] struct {
	schedulers
	onSubscribe StreamOnSubscribe[T]
}

// CreateStream 使用生产者创建Stream，订阅前没有副作用
func CreateStream[T any](onSubscribe StreamOnSubscribe[T]) *Stream[T] {
	return &Stream[T]{onSubscribe: onSubscribe}
}

// SubscribeOn 返回在scheduler上运行生产者的副本
func (s *Stream[T]) SubscribeOn(scheduler Scheduler) *Stream[T] {
	c := *s
	c.subscribeOn = scheduler
	return &c
}

// ObserveOn 返回在scheduler上投递回调的副本
func (s *Stream[T]) ObserveOn(scheduler Scheduler) *Stream[T] {
	c := *s
	c.observeOn = scheduler
	return &c
}

// Subscribe 无消费者订阅，错误被静默丢弃
func (s *Stream[T]) Subscribe() Subscription {
	return s.subscribe(discard[T]{})
}

// SubscribeObserver 使用消费者订阅，observer为nil时等同Subscribe
func (s *Stream[T]) SubscribeObserver(observer StreamObserver[T]) Subscription {
	if observer == nil {
		return s.Subscribe()
	}
	return s.subscribe(streamTarget[T]{o: observer})
}

// SubscribeWithCallbacks 使用回调函数订阅，onError为nil时错误会在观察调度器上panic
func (s *Stream[T]) SubscribeWithCallbacks(onNext func(T), onError func(error), onComplete func()) Subscription {
	return s.SubscribeObserver(StreamCallbacks[T]{
		Next:     onNext,
		Error:    onError,
		Complete: onComplete,
	})
}

func (s *Stream[T]) subscribe(t target[T]) Subscription {
	sub := newSubscription()
	d := newDispatcher(kindStream, t, sub, orImmediate(s.observeOn))
	execute(orImmediate(s.subscribeOn), d, func() error {
		return s.onSubscribe(streamEmitter[T]{d: d})
	})
	return sub
}

// ============================================================================
// Stream 工厂函数
// ============================================================================

// EmptyStream 创建不发射元素、直接完成的Stream
func EmptyStream[T any]() *Stream[T] {
	return CreateStream(func(e StreamEmitter[T]) error {
		return e.OnComplete()
	})
}

// StreamOf 依次发射给定的值然后完成
func StreamOf[T any](values ...T) *Stream[T] {
	return StreamFromSlice(values)
}

// StreamFromSlice 依次发射切片中的元素然后完成，取消后停止发射
func StreamFromSlice[T any](values []T) *Stream[T] {
	return CreateStream(func(e StreamEmitter[T]) error {
		for _, v := range values {
			if e.IsUnsubscribed() {
				return nil
			}
			if err := e.OnNext(v); err != nil {
				return err
			}
		}
		return e.OnComplete()
	})
}

// StreamError 创建直接以err结束的Stream
func StreamError[T any](err error) *Stream[T] {
	return CreateStream(func(e StreamEmitter[T]) error {
		return e.OnError(err)
	})
}

// ============================================================================
// 转换操作符
// ============================================================================

// 派生的源沿用上游的调度器配置，上游生产者在派生源的生产者中同步运行

func deriveStream[T, R any](s *Stream[T], onSubscribe StreamOnSubscribe[R]) *Stream[R] {
	return &Stream[R]{schedulers: s.schedulers, onSubscribe: onSubscribe}
}

// Map 转换每个元素，f返回错误时以该错误结束
func Map[T, R any](s *Stream[T], f func(T) (R, error)) *Stream[R] {
	return deriveStream(s, func(e StreamEmitter[R]) error {
		var r *relay[T]
		r = newRelay(kindStream, e, func(item T) error {
			v, err := f(item)
			if err != nil {
				r.stop()
				return forward(e, err)
			}
			return e.OnNext(v)
		})
		return s.onSubscribe(r)
	})
}

// FlatMap 把每个元素映射为一个内层Stream并按顺序展开
// 内层Stream的生产者在外层生产者中同步运行，其调度器配置被忽略
func FlatMap[T, R any](s *Stream[T], f func(T) *Stream[R]) *Stream[R] {
	return deriveStream(s, func(e StreamEmitter[R]) error {
		var outer *relay[T]
		outer = newRelay(kindStream, e, func(item T) error {
			inner := newRelay(kindStream, e, e.OnNext)
			inner.complete = func() error { return nil }
			inner.fail = func(err error) error {
				outer.stop()
				return e.OnError(err)
			}

			err := f(item).onSubscribe(inner)
			if err != nil && !IsProtocolViolation(err) {
				outer.stop()
			}
			return forward(e, err)
		})
		return s.onSubscribe(outer)
	})
}

// Filter 只保留满足predicate的元素
func (s *Stream[T]) Filter(predicate func(T) bool) *Stream[T] {
	return deriveStream(s, func(e StreamEmitter[T]) error {
		return s.onSubscribe(newRelay(kindStream, e, func(item T) error {
			if predicate(item) {
				return e.OnNext(item)
			}
			return nil
		}))
	})
}

// Take 取前count个元素后完成，上游随后看到IsUnsubscribed为true
func (s *Stream[T]) Take(count int) *Stream[T] {
	return deriveStream(s, func(e StreamEmitter[T]) error {
		if count <= 0 {
			return e.OnComplete()
		}

		var taken atomic.Int64
		var r *relay[T]
		r = newRelay(kindStream, e, func(item T) error {
			n := taken.Add(1)
			if n > int64(count) {
				return nil
			}
			if err := e.OnNext(item); err != nil {
				return err
			}
			if n == int64(count) {
				r.stop()
				return e.OnComplete()
			}
			return nil
		})
		return s.onSubscribe(r)
	})
}

// DoOnNext 在生产者goroutine上、分发每个元素之前执行action
func (s *Stream[T]) DoOnNext(action func(T)) *Stream[T] {
	return deriveStream(s, func(e StreamEmitter[T]) error {
		return s.onSubscribe(newRelay(kindStream, e, func(item T) error {
			action(item)
			return e.OnNext(item)
		}))
	})
}

// ============================================================================
// 聚合操作符
// ============================================================================

// First 发射第一个元素后完成，上游为空时不发射元素直接完成
func (s *Stream[T]) First() *Single[T] {
	return &Single[T]{schedulers: s.schedulers, onSubscribe: func(e SingleEmitter[T]) error {
		var r *relay[T]
		r = newRelay(kindStream, e, func(item T) error {
			r.stop()
			if err := e.OnItem(item); err != nil {
				return err
			}
			return e.OnComplete()
		})
		return s.onSubscribe(r)
	}}
}

// Last 发射最后一个元素后完成，上游为空时不发射元素直接完成
func (s *Stream[T]) Last() *Single[T] {
	return &Single[T]{schedulers: s.schedulers, onSubscribe: func(e SingleEmitter[T]) error {
		var (
			last T
			has  bool
		)
		r := newRelay(kindStream, e, func(item T) error {
			last, has = item, true
			return nil
		})
		r.complete = func() error {
			if has {
				if err := e.OnItem(last); err != nil {
					return err
				}
			}
			return e.OnComplete()
		}
		return s.onSubscribe(r)
	}}
}

// ToList 收集所有元素，完成时作为一个切片发射
func ToList[T any](s *Stream[T]) *Single[[]T] {
	return Reduce[T, []T](s, nil, func(acc []T, item T) []T {
		return append(acc, item)
	})
}

// Reduce 从seed开始累积所有元素，完成时发射结果
func Reduce[T, R any](s *Stream[T], seed R, f func(R, T) R) *Single[R] {
	return &Single[R]{schedulers: s.schedulers, onSubscribe: func(e SingleEmitter[R]) error {
		acc := seed
		r := newRelay(kindStream, e, func(item T) error {
			acc = f(acc, item)
			return nil
		})
		r.complete = func() error {
			if err := e.OnItem(acc); err != nil {
				return err
			}
			return e.OnComplete()
		}
		return s.onSubscribe(r)
	}}
}

// ============================================================================
// 阻塞操作
// ============================================================================

// BlockingList 订阅并等待完成，返回收到的全部元素
// 观察调度器不能依赖当前goroutine执行任务，否则会一直阻塞到ctx结束
func (s *Stream[T]) BlockingList(ctx context.Context) ([]T, error) {
	var (
		mu    sync.Mutex
		items []T
	)
	done := make(chan error, 1)

	sub := s.SubscribeObserver(StreamCallbacks[T]{
		Next: func(item T) {
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
		},
		Complete: func() { done <- nil },
		Error:    func(err error) { done <- err },
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		return items, nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil, ctx.Err()
	}
}
