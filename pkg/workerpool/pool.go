// Package workerpool bounded pool of goroutines executing remote writes
// Package workerpool 执行远程写入的有界 goroutine 池
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrPoolFull task queue has no free slot
	// ErrPoolFull 任务队列已满
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed pool no longer accepts tasks
	// ErrPoolClosed 任务池已关闭
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrTaskCancelled task context was done before the task started
	ErrTaskCancelled = errors.New("task was cancelled")
)

// Task unit of work run by a worker
type Task func(ctx context.Context) error

// Config pool configuration
// Config 任务池配置
type Config struct {
	// Workers number of goroutines, default 16
	// Workers 工作协程数，默认 16
	Workers int
	// QueueSize pending task capacity, default 256
	// QueueSize 待执行任务容量，默认 256
	QueueSize int
	// WarningPercent busy ratio that triggers a warning log, default 0.8
	WarningPercent float64
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Workers:        16,
		QueueSize:      256,
		WarningPercent: 0.8,
	}
}

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// Pool fixed set of workers draining one task channel
// Pool 固定数量 worker 消费同一任务通道
type Pool struct {
	config Config
	logger *zap.Logger

	jobs    chan job
	workers sync.WaitGroup
	active  atomic.Int64

	stop context.CancelFunc
	ctx  context.Context

	mu     sync.RWMutex
	closed bool
}

// New creates and starts a pool
// New 创建并启动任务池
// cfg nil uses DefaultConfig; logger nil uses a nop logger
func New(cfg *Config, logger *zap.Logger) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.Workers > 0 {
			c.Workers = cfg.Workers
		}
		if cfg.QueueSize > 0 {
			c.QueueSize = cfg.QueueSize
		}
		if cfg.WarningPercent > 0 && cfg.WarningPercent <= 1 {
			c.WarningPercent = cfg.WarningPercent
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, stop := context.WithCancel(context.Background())
	p := &Pool{
		config: c,
		logger: logger,
		jobs:   make(chan job, c.QueueSize),
		ctx:    ctx,
		stop:   stop,
	}
	for i := 0; i < c.Workers; i++ {
		p.workers.Add(1)
		go p.work()
	}

	p.logger.Debug("worker pool started",
		zap.Int("workers", c.Workers),
		zap.Int("queueSize", c.QueueSize))
	return p
}

func (p *Pool) work() {
	defer p.workers.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

func (p *Pool) run(j job) {
	n := p.active.Add(1)
	defer p.active.Add(-1)

	if threshold := int64(float64(p.config.Workers) * p.config.WarningPercent); threshold > 0 && n >= threshold {
		p.logger.Warn("worker pool approaching capacity",
			zap.Int64("active", n),
			zap.Int("workers", p.config.Workers))
	}

	var err error
	if j.ctx.Err() != nil {
		err = ErrTaskCancelled
	} else {
		err = j.fn(j.ctx)
	}
	if j.done != nil {
		j.done <- err
	}
}

func (p *Pool) enqueue(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		return ErrPoolFull
	}
}

// Submit runs fn on a worker and waits for its result
// Submit 在 worker 上执行任务并等待结果
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(job{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync queues fn without waiting
// SubmitAsync 异步提交任务，不等待结果
func (p *Pool) SubmitAsync(ctx context.Context, fn Task) error {
	return p.enqueue(job{ctx: ctx, fn: fn})
}

// Go queues fn, or runs it on a fresh goroutine when the queue is full or closed
// Go 提交任务，队列满或已关闭时改用新 goroutine 执行
func (p *Pool) Go(ctx context.Context, fn Task) {
	if p != nil && p.SubmitAsync(ctx, fn) == nil {
		return
	}
	go func() { _ = fn(ctx) }()
}

// ActiveCount tasks currently executing
func (p *Pool) ActiveCount() int64 {
	return p.active.Load()
}

// QueuedCount tasks waiting for a worker
func (p *Pool) QueuedCount() int {
	return len(p.jobs)
}

// Shutdown stops accepting tasks and waits for queued ones to finish
// Shutdown 停止接收任务并等待已排队任务完成
// When ctx expires first the remaining tasks are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.stop()
		p.logger.Warn("worker pool shutdown timed out",
			zap.Int64("active", p.active.Load()),
			zap.Int("queued", len(p.jobs)))
		return ctx.Err()
	}
}
