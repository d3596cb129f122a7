// Package task periodic maintenance of the gateway document store
// Package task 网关文档存储的定时维护任务
package task

import (
	"context"

	"github.com/haierkeys/fast-board-sync/internal/app"

	"go.uber.org/zap"
)

// Manager 任务管理器，负责创建和管理所有任务
type Manager struct {
	scheduler *Scheduler
	logger    *zap.Logger
	app       *app.App
}

// NewManager 创建任务管理器
func NewManager(logger *zap.Logger, appContainer *app.App) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scheduler: NewScheduler(logger),
		logger:    logger,
		app:       appContainer,
	}
}

// RegisterTasks 注册所有任务
func (m *Manager) RegisterTasks() error {
	for _, factory := range GetFactories() {
		t, err := factory(m.app)
		if err != nil {
			m.logger.Warn("failed to create task", zap.Error(err))
			return err
		}
		if t == nil {
			continue
		}
		m.scheduler.AddTask(t)
	}
	return nil
}

// Start 启动所有已注册的任务
func (m *Manager) Start(ctx context.Context) {
	m.scheduler.Start(ctx)
}

// Stop 停止所有任务
func (m *Manager) Stop() {
	m.scheduler.Stop()
}
