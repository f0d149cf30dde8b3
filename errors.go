// Error types for Bonsai
// 发射协议错误与默认错误处理
package bonsai

import (
	"fmt"

	"github.com/juju/errors"
)

// ============================================================================
// 协议错误
// ============================================================================

const (
	// ErrProtocolViolation 所有发射协议错误都匹配该哨兵值
	ErrProtocolViolation = errors.ConstError("emission protocol violation")

	// ErrNotStarted 在onStart分发之前调用了发射方法
	ErrNotStarted = errors.ConstError("subscriber not started")

	// ErrAlreadyStarted onStart被分发了两次
	ErrAlreadyStarted = errors.ConstError("subscriber already started")

	// ErrAlreadyTerminated 终止事件之后继续发射
	ErrAlreadyTerminated = errors.ConstError("subscriber already terminated")

	// ErrItemAlreadyEmitted Single发射了第二个元素
	ErrItemAlreadyEmitted = errors.ConstError("single already emitted an item")
)

// ProtocolError 发射方法被拒绝时返回的错误
// 只在生产者所在的goroutine上同步返回，不会通知消费者
type ProtocolError struct {
	// Op 被拒绝的发射方法，例如 "OnNext"
	Op string
	// Source 源类型：Stream、Single或Completable
	Source string
	// Reason 拒绝原因，为上面的哨兵之一
	Reason error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s.%s rejected: %v", e.Source, e.Op, e.Reason)
}

// Unwrap 返回拒绝原因
func (e *ProtocolError) Unwrap() error {
	return e.Reason
}

// Is 让所有协议错误匹配ErrProtocolViolation
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// IsProtocolViolation 判断err是否为发射协议错误
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// ============================================================================
// 默认错误处理
// ============================================================================

// OnErrorNotImplementedError 消费者没有提供OnError回调时，
// 在观察调度器上以该值panic
type OnErrorNotImplementedError struct {
	Err error
}

func (e *OnErrorNotImplementedError) Error() string {
	return fmt.Sprintf("onError not implemented: %v", e.Err)
}

// Unwrap 返回原始错误
func (e *OnErrorNotImplementedError) Unwrap() error {
	return e.Err
}

func raiseUnhandled(err error) {
	panic(&OnErrorNotImplementedError{Err: err})
}
