// Package bonsai provides minimal reactive streams for Go
// 面向UI事件循环的轻量响应式库：后台执行生产者，在观察调度器上按序投递回调
package bonsai

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// ============================================================================
// 生命周期管理
// ============================================================================

// Subscription 订阅句柄，由Subscribe返回给调用方
type Subscription interface {
	// Unsubscribe 取消订阅，幂等，可在任意goroutine调用
	Unsubscribe()
	// IsUnsubscribed 检查是否已取消订阅
	IsUnsubscribed() bool
}

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// ============================================================================
// 内部实现基础结构
// ============================================================================

// subscription 单次订阅共享的取消标志
// 同时被调用方、发射器和分发守卫引用，只允许 0 -> 1 的单向变化
type subscription struct {
	id           string
	unsubscribed int32
}

// newSubscription 创建订阅标志
func newSubscription() *subscription {
	return &subscription{id: uuid.NewString()}
}

// Unsubscribe 取消订阅
func (s *subscription) Unsubscribe() {
	if atomic.CompareAndSwapInt32(&s.unsubscribed, 0, 1) {
		logger().Debug("subscription cancelled", slog.String("subscription", s.id))
	}
}

// IsUnsubscribed 检查是否已取消订阅
func (s *subscription) IsUnsubscribed() bool {
	return atomic.LoadInt32(&s.unsubscribed) == 1
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// newBaseDisposable 创建基础可释放资源
func newBaseDisposable(action func()) *baseDisposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// ============================================================================
// 日志
// ============================================================================

var packageLogger atomic.Pointer[slog.Logger]

// SetLogger 替换包内使用的日志记录器，传入nil恢复为slog.Default()
func SetLogger(l *slog.Logger) {
	packageLogger.Store(l)
}

func logger() *slog.Logger {
	if l := packageLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}
