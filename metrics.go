// Scheduler metrics for Bonsai
// 调度器性能监控，基于Prometheus
package bonsai

import (
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 调度器指标集合，按调度器名称分标签
type Metrics struct {
	scheduled *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	latency   *prometheus.HistogramVec

	clock clock.Clock
}

// NewMetrics 创建调度器指标并注册到reg，reg为nil时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonsai",
			Subsystem: "scheduler",
			Name:      "tasks_scheduled_total",
			Help:      "Number of tasks submitted to the scheduler.",
		}, []string{"scheduler"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonsai",
			Subsystem: "scheduler",
			Name:      "tasks_completed_total",
			Help:      "Number of tasks that returned normally.",
		}, []string{"scheduler"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bonsai",
			Subsystem: "scheduler",
			Name:      "tasks_failed_total",
			Help:      "Number of tasks that panicked.",
		}, []string{"scheduler"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bonsai",
			Subsystem: "scheduler",
			Name:      "task_latency_seconds",
			Help:      "Time from submission until the task finished.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"scheduler"}),
		clock: clock.WallClock,
	}

	if reg != nil {
		reg.MustRegister(m.scheduled, m.completed, m.failed, m.latency)
	}
	return m
}

// monitoredScheduler 带监控的调度器包装器
type monitoredScheduler struct {
	name      string
	scheduler Scheduler
	metrics   *Metrics
}

// Instrument 包装调度器并记录任务指标，metrics为nil时原样返回
func Instrument(name string, scheduler Scheduler, metrics *Metrics) Scheduler {
	if metrics == nil {
		return scheduler
	}
	return &monitoredScheduler{
		name:      name,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

// Execute 调度任务并记录指标，任务panic会被计数后重新抛出
func (s *monitoredScheduler) Execute(task func()) {
	s.metrics.scheduled.WithLabelValues(s.name).Inc()

	clk := s.metrics.clock
	startTime := clk.Now()
	s.scheduler.Execute(func() {
		defer func() {
			s.metrics.latency.WithLabelValues(s.name).Observe(clk.Now().Sub(startTime).Seconds())

			if r := recover(); r != nil {
				s.metrics.failed.WithLabelValues(s.name).Inc()
				panic(r)
			}
			s.metrics.completed.WithLabelValues(s.name).Inc()
		}()

		task()
	})
}

// Unwrap 返回被包装的调度器
func (s *monitoredScheduler) Unwrap() Scheduler {
	return s.scheduler
}
