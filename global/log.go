package global

import (
	"go.uber.org/zap"
)

// Logger process logger, set once by the run command
// Logger 进程日志器，由启动命令设置
var Logger *zap.Logger

// Log returns the process logger, never nil
// Log 返回进程日志器，不会为 nil
func Log() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}
