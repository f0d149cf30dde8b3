// Observer types for Bonsai
// 消费者接口与回调结构体，所有回调都在观察调度器上执行
package bonsai

// ============================================================================
// 消费者接口
// ============================================================================

// StreamObserver 多值流的消费者
type StreamObserver[T any] interface {
	OnStart()
	OnNext(item T)
	OnComplete()
	OnError(err error)
}

// SingleObserver 单值源的消费者
type SingleObserver[T any] interface {
	OnStart()
	OnItem(item T)
	OnComplete()
	OnError(err error)
}

// CompletableObserver 无值源的消费者
type CompletableObserver interface {
	OnStart()
	OnComplete()
	OnError(err error)
}

// ============================================================================
// 回调结构体
// ============================================================================

// StreamCallbacks 用函数字段实现StreamObserver
// 为nil的回调被忽略，但Error为nil时收到错误会panic
type StreamCallbacks[T any] struct {
	Start    func()
	Next     func(item T)
	Complete func()
	Error    func(err error)
}

func (c StreamCallbacks[T]) OnStart() {
	if c.Start != nil {
		c.Start()
	}
}

func (c StreamCallbacks[T]) OnNext(item T) {
	if c.Next != nil {
		c.Next(item)
	}
}

func (c StreamCallbacks[T]) OnComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

// OnError 未提供Error时以*OnErrorNotImplementedError panic
func (c StreamCallbacks[T]) OnError(err error) {
	if c.Error == nil {
		raiseUnhandled(err)
	}
	c.Error(err)
}

// SingleCallbacks 用函数字段实现SingleObserver
// 为nil的回调被忽略，但Error为nil时收到错误会panic
type SingleCallbacks[T any] struct {
	Start    func()
	Item     func(item T)
	Complete func()
	Error    func(err error)
}

func (c SingleCallbacks[T]) OnStart() {
	if c.Start != nil {
		c.Start()
	}
}

func (c SingleCallbacks[T]) OnItem(item T) {
	if c.Item != nil {
		c.Item(item)
	}
}

func (c SingleCallbacks[T]) OnComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

// OnError 未提供Error时以*OnErrorNotImplementedError panic
func (c SingleCallbacks[T]) OnError(err error) {
	if c.Error == nil {
		raiseUnhandled(err)
	}
	c.Error(err)
}

// CompletableCallbacks 用函数字段实现CompletableObserver
// 为nil的回调被忽略，但Error为nil时收到错误会panic
type CompletableCallbacks struct {
	Start    func()
	Complete func()
	Error    func(err error)
}

func (c CompletableCallbacks) OnStart() {
	if c.Start != nil {
		c.Start()
	}
}

func (c CompletableCallbacks) OnComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

// OnError 未提供Error时以*OnErrorNotImplementedError panic
func (c CompletableCallbacks) OnError(err error) {
	if c.Error == nil {
		raiseUnhandled(err)
	}
	c.Error(err)
}

// ============================================================================
// 分发目标适配
// ============================================================================

// target 分发守卫投递回调的统一形式
type target[T any] interface {
	onStart()
	onItem(item T)
	onComplete()
	onError(err error)
}

// discard 没有消费者时使用，错误被静默丢弃
type discard[T any] struct{}

func (discard[T]) onStart()          {}
func (discard[T]) onItem(T)          {}
func (discard[T]) onComplete()       {}
func (discard[T]) onError(err error) {}

type streamTarget[T any] struct {
	o StreamObserver[T]
}

func (t streamTarget[T]) onStart()          { t.o.OnStart() }
func (t streamTarget[T]) onItem(item T)     { t.o.OnNext(item) }
func (t streamTarget[T]) onComplete()       { t.o.OnComplete() }
func (t streamTarget[T]) onError(err error) { t.o.OnError(err) }

type singleTarget[T any] struct {
	o SingleObserver[T]
}

func (t singleTarget[T]) onStart()          { t.o.OnStart() }
func (t singleTarget[T]) onItem(item T)     { t.o.OnItem(item) }
func (t singleTarget[T]) onComplete()       { t.o.OnComplete() }
func (t singleTarget[T]) onError(err error) { t.o.OnError(err) }

type completableTarget struct {
	o CompletableObserver
}

func (t completableTarget) onStart()          { t.o.OnStart() }
func (t completableTarget) onItem(struct{})   {}
func (t completableTarget) onComplete()       { t.o.OnComplete() }
func (t completableTarget) onError(err error) { t.o.OnError(err) }
