// Emitter types for Bonsai
// 生产者使用的发射器，每个发射方法返回结果：nil表示接受，*ProtocolError表示拒绝
package bonsai

// CompletableEmitter 无值源的发射器，也是其他发射器的公共部分
type CompletableEmitter interface {
	// OnComplete 发射成功终止事件
	OnComplete() error
	// OnError 发射失败终止事件
	OnError(err error) error
	// IsUnsubscribed 消费者是否已取消订阅，生产者应在工作单元之间轮询
	IsUnsubscribed() bool
}

// StreamEmitter 多值流的发射器
type StreamEmitter[T any] interface {
	CompletableEmitter
	// OnNext 发射一个元素
	OnNext(item T) error
}

// SingleEmitter 单值源的发射器，完成前最多发射一个元素
type SingleEmitter[T any] interface {
	CompletableEmitter
	// OnItem 发射唯一的元素
	OnItem(item T) error
}

type streamEmitter[T any] struct {
	d *dispatcher[T]
}

func (e streamEmitter[T]) OnNext(item T) error     { return e.d.dispatchItem("OnNext", item) }
func (e streamEmitter[T]) OnComplete() error       { return e.d.dispatchComplete() }
func (e streamEmitter[T]) OnError(err error) error { return e.d.dispatchError(err) }
func (e streamEmitter[T]) IsUnsubscribed() bool    { return e.d.isUnsubscribed() }

type singleEmitter[T any] struct {
	d *dispatcher[T]
}

func (e singleEmitter[T]) OnItem(item T) error     { return e.d.dispatchItem("OnItem", item) }
func (e singleEmitter[T]) OnComplete() error       { return e.d.dispatchComplete() }
func (e singleEmitter[T]) OnError(err error) error { return e.d.dispatchError(err) }
func (e singleEmitter[T]) IsUnsubscribed() bool    { return e.d.isUnsubscribed() }

type completableEmitter struct {
	d *dispatcher[struct{}]
}

func (e completableEmitter) OnComplete() error       { return e.d.dispatchComplete() }
func (e completableEmitter) OnError(err error) error { return e.d.dispatchError(err) }
func (e completableEmitter) IsUnsubscribed() bool    { return e.d.isUnsubscribed() }
