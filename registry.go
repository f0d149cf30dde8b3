// Scheduler registry for Bonsai
// 默认调度器注册表：按名称解析调度器，按goroutine惰性创建当前调度器
package bonsai

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"github.com/juju/errors"
	"github.com/petermattis/goid"
)

// ============================================================================
// 配置
// ============================================================================

// Config 注册表配置，可从环境变量加载
type Config struct {
	// ComputeWorkers 计算调度器worker数量，0表示CPU核数
	ComputeWorkers int `env:"BONSAI_COMPUTE_WORKERS" envDefault:"0"`
	// ComputeQueueSize 计算调度器任务队列长度
	ComputeQueueSize int `env:"BONSAI_COMPUTE_QUEUE" envDefault:"64"`
	// IOMaxConcurrency IO调度器并发上限，0表示不限制
	IOMaxConcurrency int `env:"BONSAI_IO_MAX_CONCURRENCY" envDefault:"64"`
	// MainHosted 为true时主Looper由应用调用Run托管，否则注册表自行启动
	MainHosted bool `env:"BONSAI_MAIN_HOSTED" envDefault:"false"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ComputeWorkers:   0,
		ComputeQueueSize: 64,
		IOMaxConcurrency: 64,
	}
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Annotate(err, "parsing scheduler config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c Config) Validate() error {
	if c.ComputeWorkers < 0 {
		return errors.NotValidf("compute workers %d", c.ComputeWorkers)
	}
	if c.ComputeQueueSize < 0 {
		return errors.NotValidf("compute queue size %d", c.ComputeQueueSize)
	}
	if c.IOMaxConcurrency < 0 {
		return errors.NotValidf("io max concurrency %d", c.IOMaxConcurrency)
	}
	return nil
}

// ============================================================================
// 注册表
// ============================================================================

// Option 注册表配置选项
type Option func(*Registry)

// WithLogger 设置注册表使用的日志记录器
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics 为主、IO和计算调度器记录指标
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry 调度器注册表
//
// 主、IO和计算调度器在首次使用时创建。当前调度器按调用goroutine解析：
// 某个goroutine第一次调用Current时为它创建一个未启动的Looper，
// 之后在同一goroutine上总是返回同一个Looper，条目不会被淘汰。
// 该goroutine需要自行调用Run或Drain来执行投递给它的任务。
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mainOnce    sync.Once
	main        *Looper
	ioOnce      sync.Once
	io          *IOScheduler
	computeOnce sync.Once
	compute     *ComputeScheduler

	current sync.Map // goroutine id -> *Looper

	mu      sync.Mutex
	threads []*Looper
	closed  bool
}

// NewRegistry 使用给定配置创建注册表
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	r := &Registry{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger()
	}
	return r, nil
}

// Config 返回注册表配置
func (r *Registry) Config() Config {
	return r.cfg
}

// Immediate 返回同步调度器
func (r *Registry) Immediate() Scheduler {
	return immediate
}

// MainLooper 返回主Looper本身，MainHosted为true时应用需调用其Run
// 注册表关闭后首次调用得到一个已停止的Looper
func (r *Registry) MainLooper() *Looper {
	r.mainOnce.Do(func() {
		r.main = NewLooper("main")
		if r.isClosed() {
			r.main.Dispose()
			return
		}
		if !r.cfg.MainHosted {
			r.main.Start()
		}
		r.logger.Debug("main looper created", slog.Bool("hosted", r.cfg.MainHosted))
	})
	return r.main
}

// Main 返回主线程调度器
func (r *Registry) Main() Scheduler {
	return Instrument("main", r.MainLooper(), r.metrics)
}

// IO 返回IO调度器
func (r *Registry) IO() Scheduler {
	r.ioOnce.Do(func() {
		r.io = NewIOScheduler(r.cfg.IOMaxConcurrency)
		if r.isClosed() {
			r.io.Dispose()
			return
		}
		r.logger.Debug("io scheduler created", slog.Int("max_concurrency", r.cfg.IOMaxConcurrency))
	})
	return Instrument("io", r.io, r.metrics)
}

// Compute 返回计算调度器
func (r *Registry) Compute() Scheduler {
	r.computeOnce.Do(func() {
		r.compute = NewComputeScheduler(r.cfg.ComputeWorkers, r.cfg.ComputeQueueSize)
		if r.isClosed() {
			r.compute.Dispose()
			return
		}
		r.logger.Debug("compute scheduler created", slog.Int("workers", r.compute.Workers()))
	})
	return Instrument("compute", r.compute, r.metrics)
}

// Current 返回调用goroutine的Looper，首次调用时创建
func (r *Registry) Current() *Looper {
	gid := goid.Get()
	if l, ok := r.current.Load(gid); ok {
		return l.(*Looper)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := NewLooper(fmt.Sprintf("current-%d", gid))
	if r.closed {
		fresh.Dispose()
		return fresh
	}
	l, loaded := r.current.LoadOrStore(gid, fresh)
	if !loaded {
		r.logger.Debug("current looper created", slog.Int64("goroutine", gid))
	}
	return l.(*Looper)
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// NewSingleThread 每次调用返回一个新的、已启动的单goroutine调度器
// 返回的Looper由注册表跟踪，Close时一并停止
func (r *Registry) NewSingleThread() *Looper {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := NewLooper(fmt.Sprintf("single-%d", len(r.threads)))
	if r.closed {
		l.Dispose()
		return l
	}
	r.threads = append(r.threads, l)
	return l.Start()
}

// Close 停止注册表创建的所有调度器
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	threads := r.threads
	r.threads = nil
	r.mu.Unlock()

	// 等待进行中的惰性创建结束，之后的创建只会得到已停止的调度器
	r.MainLooper()
	r.IO()
	r.Compute()

	errs := []error{r.main.Stop()}
	r.io.Dispose()
	r.compute.Dispose()
	for _, l := range threads {
		errs = append(errs, l.Stop())
	}
	r.current.Range(func(_, v any) bool {
		errs = append(errs, v.(*Looper).Stop())
		return true
	})

	for _, err := range errs {
		if err != nil {
			return errors.Annotate(err, "closing registry")
		}
	}
	return nil
}

// ============================================================================
// 默认注册表
// ============================================================================

var defaultRegistry atomic.Pointer[Registry]

// DefaultRegistry 返回进程级注册表，首次调用时从环境变量创建
// 环境变量无效时退回DefaultConfig
func DefaultRegistry() *Registry {
	for {
		if r := defaultRegistry.Load(); r != nil {
			return r
		}
		cfg, err := LoadConfig()
		if err != nil {
			logger().Warn("invalid scheduler environment, using defaults", slog.Any("error", err))
			cfg = DefaultConfig()
		}
		r, _ := NewRegistry(cfg)
		if defaultRegistry.CompareAndSwap(nil, r) {
			return r
		}
	}
}

// SetDefaultRegistry 替换进程级注册表，返回之前的注册表（可能为nil）
func SetDefaultRegistry(r *Registry) *Registry {
	return defaultRegistry.Swap(r)
}

// Main 返回默认注册表的主线程调度器
func Main() Scheduler {
	return DefaultRegistry().Main()
}

// IO 返回默认注册表的IO调度器
func IO() Scheduler {
	return DefaultRegistry().IO()
}

// Compute 返回默认注册表的计算调度器
func Compute() Scheduler {
	return DefaultRegistry().Compute()
}

// Current 返回默认注册表中调用goroutine的Looper
func Current() *Looper {
	return DefaultRegistry().Current()
}

// NewSingleThread 从默认注册表创建新的单goroutine调度器
func NewSingleThread() *Looper {
	return DefaultRegistry().NewSingleThread()
}
