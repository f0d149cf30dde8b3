// Test helpers for Bonsai
// 测试用的记录型消费者
package bonsai

import (
	"sync"

	"github.com/petermattis/goid"
)

// recorder 记录收到的回调及其所在goroutine，同时实现三种消费者接口
type recorder[T any] struct {
	mu         sync.Mutex
	events     []string
	items      []T
	err        error
	goroutines []int64
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{}
}

func (r *recorder[T]) record(event string) {
	r.events = append(r.events, event)
	r.goroutines = append(r.goroutines, goid.Get())
}

func (r *recorder[T]) OnStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("start")
}

func (r *recorder[T]) OnNext(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	r.record("next")
}

func (r *recorder[T]) OnItem(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	r.record("item")
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("complete")
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.record("error")
}

func (r *recorder[T]) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func (r *recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder[T]) Goroutines() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.goroutines...)
}

// countingScheduler 同步执行并统计提交次数
type countingScheduler struct {
	mu    sync.Mutex
	count int
}

func (s *countingScheduler) Execute(task func()) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	task()
}

func (s *countingScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
