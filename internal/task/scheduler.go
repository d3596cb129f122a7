package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 定义任务接口
type Task interface {
	Name() string                  // 任务名称
	Run(ctx context.Context) error // 执行任务
	LoopInterval() time.Duration   // 执行间隔
	IsStartupRun() bool            // 是否立即执行一次
}

// Scheduler 任务调度器
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler 创建任务调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger: logger,
		tasks:  make([]Task, 0),
	}
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task Task) {
	s.tasks = append(s.tasks, task)
}

// Tasks 已添加的任务
func (s *Scheduler) Tasks() []Task {
	return s.tasks
}

// Start 启动所有任务，ctx 结束或 Stop 时停止
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.tasks) == 0 {
		s.logger.Info("no tasks to schedule")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("tasks starting", zap.Int("count", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.startTask(ctx, task)
	}
}

// Stop 停止所有任务并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// startTask 运行单个任务直到 ctx 结束
func (s *Scheduler) startTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	// 如果任务需要立即执行
	if task.IsStartupRun() {
		s.runOnce(ctx, task, "startupRun")
	}

	if task.LoopInterval() <= 0 {
		return
	}

	ticker := time.NewTicker(task.LoopInterval())
	defer ticker.Stop()

	// 定时执行
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, task, "loopRun")
		case <-ctx.Done():
			s.logger.Info("task stopped", zap.String("name", task.Name()))
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task, mode string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				zap.String("name", task.Name()),
				zap.String("mode", mode),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	s.logger.Debug("task running", zap.String("name", task.Name()), zap.String("mode", mode))
	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("task running error",
			zap.String("name", task.Name()),
			zap.String("mode", mode),
			zap.Error(err))
	}
}
