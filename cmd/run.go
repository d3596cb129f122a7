package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haierkeys/fast-board-sync/pkg/fileurl"
	"github.com/haierkeys/fast-board-sync/pkg/util"

	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// tokenKeyAlphabet characters of a generated auth-token-key
const tokenKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// configCandidates config files looked up, in order, when -c is not given
var configCandidates = []string{"config/config-dev.yaml", "config.yaml", "config/config.yaml"}

type runFlags struct {
	dir     string // Project root directory // 项目根目录
	port    string // Startup port // 启动端口
	runMode string // Startup mode // 启动模式
	config  string // Specified configuration file path // 指定要使用的配置文件路径
}

// resolveConfig picks the config file, writing the embedded default when none exists
// resolveConfig 查找配置文件，不存在时写入内置默认配置
func resolveConfig(path string) (string, error) {
	if len(path) > 0 {
		return path, nil
	}
	for _, candidate := range configCandidates {
		if fileurl.IsExist(candidate) {
			return candidate, nil
		}
	}

	bootstrapLogger.Warn("config file not found, creating default config")
	path = "config/config.yaml"

	content := configDefault
	if key, err := util.RandomString(tokenKeyAlphabet, 32); err == nil {
		content = strings.Replace(content, "fast-board-sync-Auth-Token", key, 1)
	}
	if err := fileurl.CreatePath(path, os.ModePerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	bootstrapLogger.Info("config file auto create successfully", zap.String("path", fileurl.AbsPath(path)))
	return path, nil
}

// watchConfig calls reload after every write to path, until stop is closed
// watchConfig 在 path 每次被写入后调用 reload，直到 stop 关闭
func watchConfig(path string, stop <-chan struct{}, reload func()) {
	w := watcher.New()

	// Set MaxEvents to 1 to receive at most 1 event in each listening cycle
	// 将 SetMaxEvents 设置为 1，以便在每个监听周期中至多接收 1 个事件
	w.SetMaxEvents(1)

	// Only notify write events.
	// 只通知写入事件。
	w.FilterOps(watcher.Write)

	go func() {
		for {
			select {
			case event := <-w.Event:
				bootstrapLogger.Info("config watcher change", zap.String("event", event.Op.String()), zap.String("file", event.Path))
				reload()
			case err := <-w.Error:
				bootstrapLogger.Error("config watcher error", zap.Error(err))
			case <-w.Closed:
				return
			case <-stop:
				w.Close()
				return
			}
		}
	}()

	if err := w.Add(path); err != nil {
		bootstrapLogger.Error("config watcher file error", zap.Error(err))
		return
	}
	if err := w.Start(time.Second * 5); err != nil {
		bootstrapLogger.Error("config watcher start error", zap.Error(err))
	}
}

func init() {
	runEnv := new(runFlags)

	var runCommand = &cobra.Command{
		Use:   "run [-c config_file] [-d working_dir] [-p port]",
		Short: "Run the sync gateway",
		Run: func(cmd *cobra.Command, args []string) {
			if len(runEnv.dir) > 0 {
				if err := os.Chdir(runEnv.dir); err != nil {
					bootstrapLogger.Error("failed to change the current working directory", zap.Error(err))
					return
				}
				bootstrapLogger.Info("working directory changed", zap.String("dir", runEnv.dir))
			}

			path, err := resolveConfig(runEnv.config)
			if err != nil {
				bootstrapLogger.Error("config file auto create error", zap.Error(err))
				return
			}
			runEnv.config = path

			s, err := NewServer(runEnv)
			if err != nil {
				bootstrapLogger.Error("api service start err", zap.Error(err))
				return
			}

			// Config changes restart the server in place
			// 配置变更时原地重启服务
			reloads := make(chan struct{}, 1)
			stopWatch := make(chan struct{})
			defer close(stopWatch)
			go watchConfig(runEnv.config, stopWatch, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-reloads:
					ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
					_ = s.Shutdown(ctx)
					cancel()

					// Re-initialize server
					// 重新初始化 server
					next, err := NewServer(runEnv)
					if err != nil {
						bootstrapLogger.Error("service restart err", zap.Error(err))
						return
					}
					s = next
					continue
				case err := <-s.Errors():
					s.logger.Error("service stopped", zap.Error(err))
				case <-quit:
					s.logger.Info("Received shutdown signal, initiating graceful shutdown...")
				}
				break
			}

			ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				bootstrapLogger.Error("Shutdown completed with error", zap.Error(err))
			} else {
				bootstrapLogger.Info("Service has been shut down gracefully.")
			}
		},
	}

	rootCmd.AddCommand(runCommand)
	fs := runCommand.Flags()
	fs.StringVarP(&runEnv.dir, "dir", "d", "", "run dir")
	fs.StringVarP(&runEnv.port, "port", "p", "", "run port")
	fs.StringVarP(&runEnv.runMode, "mode", "m", "", "run mode")
	fs.StringVarP(&runEnv.config, "config", "c", "", "config file")
}
