// Stream tests for Bonsai
// Stream全面测试套件：发射顺序、协议错误、取消和跨调度器投递
package bonsai

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petermattis/goid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 基础功能测试
// ============================================================================

func TestStreamBasics(t *testing.T) {
	t.Run("EmitsInOrder", func(t *testing.T) {
		rec := newRecorder[string]()
		StreamOf("1", "2", "3").SubscribeObserver(rec)

		assert.Equal(t, []string{"1", "2", "3"}, rec.Items())
		assert.Equal(t, []string{"start", "next", "next", "next", "complete"}, rec.Events())
		assert.NoError(t, rec.Err())
	})

	t.Run("Empty", func(t *testing.T) {
		rec := newRecorder[int]()
		EmptyStream[int]().SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "complete"}, rec.Events())
		assert.Empty(t, rec.Items())
	})

	t.Run("EmptyOnLoopers", func(t *testing.T) {
		producer := NewLooper("producer")
		observer := NewLooper("observer")
		rec := newRecorder[int]()

		EmptyStream[int]().SubscribeOn(producer).ObserveOn(observer).SubscribeObserver(rec)
		assert.Empty(t, rec.Events(), "订阅不应阻塞或同步执行")

		assert.Equal(t, 1, producer.Drain())
		assert.Equal(t, 2, observer.Drain())
		assert.Equal(t, []string{"start", "complete"}, rec.Events())
	})

	t.Run("StreamError", func(t *testing.T) {
		boom := errors.New("boom")
		rec := newRecorder[int]()
		StreamError[int](boom).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "error"}, rec.Events())
		assert.Equal(t, boom, rec.Err())
	})

	t.Run("SubscribeWithCallbacks", func(t *testing.T) {
		var items []int
		completed := false
		StreamFromSlice([]int{4, 5}).SubscribeWithCallbacks(
			func(v int) { items = append(items, v) },
			func(err error) { t.Errorf("不应该有错误: %v", err) },
			func() { completed = true },
		)

		assert.Equal(t, []int{4, 5}, items)
		assert.True(t, completed)
	})

	t.Run("EachSubscriptionIsIndependent", func(t *testing.T) {
		var calls atomic.Int32
		s := CreateStream(func(e StreamEmitter[int]) error {
			n := int(calls.Add(1))
			if err := e.OnNext(n); err != nil {
				return err
			}
			return e.OnComplete()
		})

		first, second := newRecorder[int](), newRecorder[int]()
		sub1 := s.SubscribeObserver(first)
		sub2 := s.SubscribeObserver(second)

		assert.NotSame(t, sub1, sub2)
		assert.Equal(t, []int{1}, first.Items())
		assert.Equal(t, []int{2}, second.Items())

		sub1.Unsubscribe()
		assert.True(t, sub1.IsUnsubscribed())
		assert.False(t, sub2.IsUnsubscribed())
	})

	t.Run("ConfigurationReturnsCopy", func(t *testing.T) {
		looper := NewLooper("io")
		base := EmptyStream[int]()
		configured := base.SubscribeOn(looper)

		assert.Nil(t, base.subscribeOn)
		assert.Equal(t, Scheduler(looper), configured.subscribeOn)

		rec := newRecorder[int]()
		base.SubscribeObserver(rec)
		assert.Equal(t, []string{"start", "complete"}, rec.Events())
		assert.Zero(t, looper.Pending())
	})
}

// ============================================================================
// 错误处理测试
// ============================================================================

func TestStreamErrors(t *testing.T) {
	t.Run("EmissionAfterCompleteRejected", func(t *testing.T) {
		rec := newRecorder[int]()
		var late, lateComplete, lateError error

		CreateStream(func(e StreamEmitter[int]) error {
			require.NoError(t, e.OnNext(1))
			require.NoError(t, e.OnComplete())
			late = e.OnNext(2)
			lateComplete = e.OnComplete()
			lateError = e.OnError(errors.New("late"))
			return nil
		}).SubscribeObserver(rec)

		require.ErrorIs(t, late, ErrAlreadyTerminated)
		assert.True(t, IsProtocolViolation(late))
		assert.ErrorIs(t, lateComplete, ErrAlreadyTerminated)
		assert.ErrorIs(t, lateError, ErrAlreadyTerminated)

		var pe *ProtocolError
		require.ErrorAs(t, late, &pe)
		assert.Equal(t, "OnNext", pe.Op)
		assert.Equal(t, "Stream", pe.Source)

		assert.Equal(t, []string{"start", "next", "complete"}, rec.Events())
	})

	t.Run("ProducerErrorForwarded", func(t *testing.T) {
		boom := errors.New("X")
		rec := newRecorder[int]()

		CreateStream(func(e StreamEmitter[int]) error {
			if err := e.OnNext(1); err != nil {
				return err
			}
			return boom
		}).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "next", "error"}, rec.Events())
		assert.Same(t, boom, rec.Err())
	})

	t.Run("ProducerErrorAfterTerminalDropped", func(t *testing.T) {
		rec := newRecorder[int]()

		CreateStream(func(e StreamEmitter[int]) error {
			_ = e.OnComplete()
			return errors.New("too late")
		}).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "complete"}, rec.Events())
		assert.NoError(t, rec.Err())
	})

	t.Run("ReturnedViolationNotForwarded", func(t *testing.T) {
		rec := newRecorder[int]()

		sub := CreateStream(func(e StreamEmitter[int]) error {
			_ = e.OnNext(1)
			return &ProtocolError{Op: "OnNext", Source: "Stream", Reason: ErrAlreadyTerminated}
		}).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "next"}, rec.Events())
		assert.NoError(t, rec.Err())
		assert.False(t, sub.IsUnsubscribed())
	})

	t.Run("MissingOnErrorPanics", func(t *testing.T) {
		boom := errors.New("boom")

		var recovered any
		func() {
			defer func() { recovered = recover() }()
			StreamError[int](boom).SubscribeWithCallbacks(func(int) {}, nil, nil)
		}()

		require.NotNil(t, recovered)
		err, ok := recovered.(error)
		require.True(t, ok)

		var unhandled *OnErrorNotImplementedError
		require.ErrorAs(t, err, &unhandled)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("NoConsumerDropsErrors", func(t *testing.T) {
		assert.NotPanics(t, func() {
			StreamError[int](errors.New("boom")).Subscribe()
		})
		assert.NotPanics(t, func() {
			StreamError[int](errors.New("boom")).SubscribeObserver(nil)
		})
	})
}

// ============================================================================
// 取消测试
// ============================================================================

func TestStreamCancellation(t *testing.T) {
	t.Run("UnsubscribeBeforeExecution", func(t *testing.T) {
		producer := NewLooper("producer")
		rec := newRecorder[int]()
		var results []error
		var sawCancel bool

		sub := CreateStream(func(e StreamEmitter[int]) error {
			sawCancel = e.IsUnsubscribed()
			for i := 0; i < 3; i++ {
				results = append(results, e.OnNext(i))
			}
			return e.OnComplete()
		}).SubscribeOn(producer).SubscribeObserver(rec)

		sub.Unsubscribe()
		producer.Drain()

		assert.True(t, sawCancel)
		assert.Equal(t, []error{nil, nil, nil}, results, "取消后的发射仍被接受")
		assert.Empty(t, rec.Events())
	})

	t.Run("UnsubscribeAfterStart", func(t *testing.T) {
		producer := NewLooper("producer")
		rec := newRecorder[int]()
		var sub Subscription
		var second error

		sub = CreateStream(func(e StreamEmitter[int]) error {
			sub.Unsubscribe()
			for i := 0; i < 3; i++ {
				if err := e.OnNext(i); err != nil {
					return err
				}
			}
			if err := e.OnComplete(); err != nil {
				return err
			}
			second = e.OnComplete()
			return nil
		}).SubscribeOn(producer).SubscribeObserver(rec)

		producer.Drain()

		assert.Equal(t, []string{"start"}, rec.Events())
		assert.Empty(t, rec.Items())
		assert.ErrorIs(t, second, ErrAlreadyTerminated)
	})

	t.Run("CooperativeProducerStops", func(t *testing.T) {
		producer := NewLooper("producer")
		defer producer.Stop()
		observer := NewLooper("observer")
		var emitted atomic.Int32
		var sub Subscription

		sub = CreateStream(func(e StreamEmitter[int]) error {
			for i := 0; !e.IsUnsubscribed(); i++ {
				if i == 5 {
					sub.Unsubscribe()
				}
				emitted.Add(1)
				if err := e.OnNext(i); err != nil {
					return err
				}
			}
			return nil
		}).SubscribeOn(producer).ObserveOn(observer).Subscribe()
		producer.Start()

		require.Eventually(t, sub.IsUnsubscribed, time.Second, time.Millisecond)
		require.Eventually(t, func() bool { return emitted.Load() == 6 }, time.Second, time.Millisecond)
	})
}

// ============================================================================
// 跨调度器测试
// ============================================================================

func TestStreamSchedulers(t *testing.T) {
	t.Run("OrderPreservedAcrossLooper", func(t *testing.T) {
		observer := NewLooper("observer")
		values := make([]int, 100)
		for i := range values {
			values[i] = i
		}

		rec := newRecorder[int]()
		StreamFromSlice(values).ObserveOn(observer).SubscribeObserver(rec)
		observer.Drain()

		assert.Equal(t, values, rec.Items())
		events := rec.Events()
		assert.Equal(t, "start", events[0])
		assert.Equal(t, "complete", events[len(events)-1])
	})

	t.Run("CurrentLoopersOnDifferentGoroutines", func(t *testing.T) {
		registry, err := NewRegistry(DefaultConfig())
		require.NoError(t, err)
		defer registry.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		type hosted struct {
			looper *Looper
			gid    int64
		}
		host := func(ch chan<- hosted, wg *sync.WaitGroup) {
			defer wg.Done()
			l := registry.Current()
			ch <- hosted{looper: l, gid: goid.Get()}
			_ = l.Run(ctx)
		}

		var wg sync.WaitGroup
		producerCh, observerCh := make(chan hosted, 1), make(chan hosted, 1)
		wg.Add(2)
		go host(producerCh, &wg)
		go host(observerCh, &wg)
		producer, observer := <-producerCh, <-observerCh
		require.NotSame(t, producer.looper, observer.looper)

		var producerGID atomic.Int64
		rec := newRecorder[string]()
		CreateStream(func(e StreamEmitter[string]) error {
			producerGID.Store(goid.Get())
			for i := 0; i < 3; i++ {
				if err := e.OnNext(strconv.Itoa(i)); err != nil {
					return err
				}
			}
			return e.OnComplete()
		}).SubscribeOn(producer.looper).ObserveOn(observer.looper).SubscribeObserver(rec)

		require.Eventually(t, func() bool { return len(rec.Events()) == 5 }, time.Second, time.Millisecond)

		assert.Equal(t, producer.gid, producerGID.Load(), "生产者应在订阅调度器上运行")
		for _, gid := range rec.Goroutines() {
			assert.Equal(t, observer.gid, gid, "回调应在观察调度器上运行")
		}
		assert.Equal(t, []string{"0", "1", "2"}, rec.Items())

		cancel()
		wg.Wait()
	})

	t.Run("SameSchedulerForBoth", func(t *testing.T) {
		looper := NewLooper("both")
		rec := newRecorder[int]()

		StreamOf(1, 2).SubscribeOn(looper).ObserveOn(looper).SubscribeObserver(rec)
		assert.Equal(t, 5, looper.Drain(), "生产者任务加上四个回调")
		assert.Equal(t, []string{"start", "next", "next", "complete"}, rec.Events())
	})
}

// ============================================================================
// 操作符测试
// ============================================================================

func TestStreamOperators(t *testing.T) {
	t.Run("Map", func(t *testing.T) {
		rec := newRecorder[string]()
		Map(StreamOf(1, 2, 3), func(v int) (string, error) {
			return strconv.Itoa(v * 2), nil
		}).SubscribeObserver(rec)

		assert.Equal(t, []string{"2", "4", "6"}, rec.Items())
		assert.Equal(t, "complete", rec.Events()[len(rec.Events())-1])
	})

	t.Run("MapError", func(t *testing.T) {
		boom := errors.New("bad value")
		rec := newRecorder[int]()
		var upstreamStopped bool

		Map(CreateStream(func(e StreamEmitter[int]) error {
			for i := 1; i <= 5; i++ {
				if e.IsUnsubscribed() {
					upstreamStopped = true
					return nil
				}
				if err := e.OnNext(i); err != nil {
					return err
				}
			}
			return e.OnComplete()
		}), func(v int) (int, error) {
			if v == 2 {
				return 0, boom
			}
			return v, nil
		}).SubscribeObserver(rec)

		assert.True(t, upstreamStopped)
		assert.Equal(t, []int{1}, rec.Items())
		assert.Equal(t, []string{"start", "next", "error"}, rec.Events())
		assert.Same(t, boom, rec.Err())
	})

	t.Run("Filter", func(t *testing.T) {
		rec := newRecorder[int]()
		StreamOf(1, 2, 3, 4, 5, 6).Filter(func(v int) bool { return v%2 == 0 }).SubscribeObserver(rec)

		assert.Equal(t, []int{2, 4, 6}, rec.Items())
	})

	t.Run("Take", func(t *testing.T) {
		rec := newRecorder[int]()
		StreamOf(1, 2, 3, 4, 5).Take(3).SubscribeObserver(rec)

		assert.Equal(t, []int{1, 2, 3}, rec.Items())
		assert.Equal(t, []string{"start", "next", "next", "next", "complete"}, rec.Events())
	})

	t.Run("TakeZero", func(t *testing.T) {
		rec := newRecorder[int]()
		StreamOf(1, 2).Take(0).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "complete"}, rec.Events())
	})

	t.Run("TakeKeepsUpstreamProtocol", func(t *testing.T) {
		var violation error
		rec := newRecorder[int]()
		CreateStream(func(e StreamEmitter[int]) error {
			_ = e.OnNext(1)
			_ = e.OnComplete()
			violation = e.OnNext(2)
			return nil
		}).Take(5).SubscribeObserver(rec)

		assert.ErrorIs(t, violation, ErrAlreadyTerminated)
		assert.Equal(t, []int{1}, rec.Items())
	})

	t.Run("FlatMap", func(t *testing.T) {
		rec := newRecorder[int]()
		FlatMap(StreamOf(1, 2), func(v int) *Stream[int] {
			return StreamOf(v*10, v*10+1)
		}).SubscribeObserver(rec)

		assert.Equal(t, []int{10, 11, 20, 21}, rec.Items())
		assert.Equal(t, []string{"start", "next", "next", "next", "next", "complete"}, rec.Events())
	})

	t.Run("FlatMapInnerError", func(t *testing.T) {
		boom := errors.New("inner")
		rec := newRecorder[int]()
		FlatMap(StreamOf(1, 2, 3), func(v int) *Stream[int] {
			if v == 2 {
				return StreamError[int](boom)
			}
			return StreamOf(v)
		}).SubscribeObserver(rec)

		assert.Equal(t, []int{1}, rec.Items())
		assert.Equal(t, []string{"start", "next", "error"}, rec.Events())
		assert.Same(t, boom, rec.Err())
	})

	t.Run("DoOnNext", func(t *testing.T) {
		var seen []int
		rec := newRecorder[int]()
		StreamOf(7, 8).DoOnNext(func(v int) { seen = append(seen, v) }).SubscribeObserver(rec)

		assert.Equal(t, []int{7, 8}, seen)
		assert.Equal(t, []int{7, 8}, rec.Items())
	})

	t.Run("InheritsSchedulers", func(t *testing.T) {
		producer := NewLooper("producer")
		rec := newRecorder[int]()
		StreamOf(1).SubscribeOn(producer).Filter(func(int) bool { return true }).SubscribeObserver(rec)

		assert.Empty(t, rec.Events())
		producer.Drain()
		assert.Equal(t, []int{1}, rec.Items())
	})
}

func TestStreamAggregation(t *testing.T) {
	t.Run("First", func(t *testing.T) {
		rec := newRecorder[int]()
		StreamOf(3, 4, 5).First().SubscribeObserver(rec)

		assert.Equal(t, []int{3}, rec.Items())
		assert.Equal(t, []string{"start", "item", "complete"}, rec.Events())
	})

	t.Run("FirstOfEmpty", func(t *testing.T) {
		rec := newRecorder[int]()
		EmptyStream[int]().First().SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "complete"}, rec.Events())
	})

	t.Run("Last", func(t *testing.T) {
		rec := newRecorder[int]()
		StreamOf(3, 4, 5).Last().SubscribeObserver(rec)

		assert.Equal(t, []int{5}, rec.Items())
		assert.Equal(t, []string{"start", "item", "complete"}, rec.Events())
	})

	t.Run("ToList", func(t *testing.T) {
		rec := newRecorder[[]string]()
		ToList(StreamOf("a", "b")).SubscribeObserver(rec)

		assert.Equal(t, [][]string{{"a", "b"}}, rec.Items())
	})

	t.Run("Reduce", func(t *testing.T) {
		rec := newRecorder[int]()
		Reduce(StreamOf(1, 2, 3, 4), 10, func(acc, v int) int { return acc + v }).SubscribeObserver(rec)

		assert.Equal(t, []int{20}, rec.Items())
	})

	t.Run("ReduceError", func(t *testing.T) {
		boom := errors.New("boom")
		rec := newRecorder[int]()
		Reduce(StreamError[int](boom), 0, func(acc, v int) int { return acc + v }).SubscribeObserver(rec)

		assert.Equal(t, []string{"start", "error"}, rec.Events())
		assert.Same(t, boom, rec.Err())
	})
}

// ============================================================================
// 阻塞操作测试
// ============================================================================

func TestStreamBlocking(t *testing.T) {
	registry, err := NewRegistry(DefaultConfig())
	require.NoError(t, err)
	defer registry.Close()

	t.Run("BlockingList", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		items, err := StreamOf(1, 2, 3).
			SubscribeOn(registry.IO()).
			ObserveOn(registry.NewSingleThread()).
			BlockingList(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, items)
	})

	t.Run("BlockingListError", func(t *testing.T) {
		boom := errors.New("boom")
		items, err := StreamError[int](boom).BlockingList(context.Background())

		assert.Nil(t, items)
		assert.Same(t, boom, err)
	})

	t.Run("BlockingListTimeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		never := CreateStream(func(e StreamEmitter[int]) error { return nil })
		_, err := never.BlockingList(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
