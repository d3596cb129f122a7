package cmd

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bootstrapLogger bootstrap stage logger
// bootstrapLogger 启动阶段日志器
// Used before the configured logger exists, and by the client commands
// 用于主日志器初始化之前，以及命令行客户端
var bootstrapLogger *zap.Logger

func init() {
	// Set log level based on DEBUG environment variable
	// 根据 DEBUG 环境变量设置日志级别
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") != "" {
		level = zapcore.DebugLevel
	}
	bootstrapLogger = newConsoleLogger(level)
}

// newConsoleLogger colored console logger writing to stderr
// newConsoleLogger 输出到 stderr 的彩色控制台日志器
func newConsoleLogger(level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}

// BootstrapLogger gets the bootstrap stage logger
// BootstrapLogger 获取启动阶段日志器
func BootstrapLogger() *zap.Logger {
	return bootstrapLogger
}
