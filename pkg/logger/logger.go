// Package logger builds the process zap logger
// Package logger 构建进程级 zap 日志器
package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config logger configuration
// Config 日志配置
type Config struct {
	// Level debug, info, warn, error
	Level string
	// File optional log file, written in addition to stderr
	// File 日志文件路径，为空时只输出到 stderr
	File string
	// Production JSON encoding when true, colored console otherwise
	// Production 为 true 时使用 JSON 编码，否则使用彩色控制台输出
	Production bool
}

// NewLogger creates a logger from cfg
// NewLogger 根据配置创建日志器
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
		}
	}

	var encCfg zapcore.EncoderConfig
	if cfg.Production {
		encCfg = zap.NewProductionEncoderConfig()
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	newEncoder := func(color bool) zapcore.Encoder {
		c := encCfg
		if !color && !cfg.Production {
			c.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		if cfg.Production {
			return zapcore.NewJSONEncoder(c)
		}
		return zapcore.NewConsoleEncoder(c)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(true), zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		cores = append(cores, zapcore.NewCore(newEncoder(false), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
