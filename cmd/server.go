package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/haierkeys/fast-board-sync/global"
	internalApp "github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/routers"
	"github.com/haierkeys/fast-board-sync/internal/task"
	"github.com/haierkeys/fast-board-sync/pkg/code"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultSecretKeys defines the list of default secret keys to be detected
// defaultSecretKeys 定义需要检测的默认密钥列表
var defaultSecretKeys = []string{
	"fast-board-sync-Auth-Token",
	"",
}

// DefaultShutdownTimeout default shutdown timeout duration
// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

type Server struct {
	logger            *zap.Logger            // Logger // 日志对象
	config            *internalApp.AppConfig // App configuration // 应用配置
	app               *internalApp.App       // App Container
	tasks             *task.Manager          // Maintenance tasks // 维护任务
	httpServer        *http.Server
	privateHttpServer *http.Server
	errs              chan error // listener failures // 监听失败
}

// checkSecurityConfigWithConfig checks security configuration, outputs warning if using default keys
// checkSecurityConfig 检查安全配置，如果使用默认密钥则输出警告
func checkSecurityConfigWithConfig(cfg *internalApp.AppConfig, lg *zap.Logger) {
	for _, key := range defaultSecretKeys {
		if cfg.Security.AuthTokenKey != key {
			continue
		}
		fmt.Println()
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println("SECURITY WARNING: Using default secret key!")
		fmt.Println()
		fmt.Println("Please modify 'security.auth-token-key' in config.yaml")
		fmt.Println("Generate a secure key with:")
		fmt.Println("  openssl rand -base64 32")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println()
		lg.Warn("Using default secret key - please change security.auth-token-key in config.yaml")
		return
	}
}

// NewServer loads the config, opens the store and starts listening
// NewServer 加载配置、打开文档存储并开始监听
func NewServer(runEnv *runFlags) (*Server, error) {
	appConfig, configRealpath, err := internalApp.LoadConfig(runEnv.config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if runEnv.port != "" {
		appConfig.Server.HttpPort = runEnv.port
		if !strings.Contains(runEnv.port, ":") {
			appConfig.Server.HttpPort = ":" + runEnv.port
		}
	}

	// Determine run mode
	// 确定运行模式
	runMode := runEnv.runMode
	if len(runMode) <= 0 {
		runMode = appConfig.Server.RunMode
	}
	if len(runMode) > 0 {
		gin.SetMode(runMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	lg, err := logger.NewLogger(appConfig.GetLoggerConfig())
	if err != nil {
		return nil, errors.Wrap(err, "initLogger")
	}
	global.Logger = lg

	if err := code.SetGlobalDefaultLang(appConfig.App.Language); err != nil {
		lg.Warn("language", zap.Error(err))
	}

	s := &Server{
		logger: lg,
		config: appConfig,
		errs:   make(chan error, 2),
	}

	checkSecurityConfigWithConfig(appConfig, lg)

	app, err := internalApp.NewApp(appConfig, lg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create app container")
	}
	s.app = app

	// Start scheduler
	// 启动调度器
	s.tasks = task.NewManager(lg, app)
	if err := s.tasks.RegisterTasks(); err != nil {
		lg.Error("failed to register tasks", zap.Error(err))
	}
	s.tasks.Start(context.Background())

	banner := `
  ___        _     ___                  _   ___
 | __|_ _ __| |_  | _ ) ___  __ _ _ _ __| | / __|_  _ _ _  __
 | _/ _' (_-<  _| | _ \/ _ \/ _' | '_/ _' | \__ \ || | ' \/ _|
 |_|\__,_/__/\__| |___/\___/\__,_|_| \__,_| |___/\_, |_||_\__|
                                                 |__/         `
	lg.Warn(fmt.Sprintf("%s\n\n%s v%s\nGit: %s\nBuildTime: %s\n", banner, internalApp.Name, internalApp.Version, internalApp.GitTag, internalApp.BuildTime))
	lg.Warn("config loaded", zap.String("path", configRealpath), zap.String("store", appConfig.Store.Type))

	// Start HTTP API server
	// 启动 HTTP API 服务器
	s.httpServer = &http.Server{
		Addr:           appConfig.Server.HttpPort,
		Handler:        routers.NewRouter(app),
		ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	if err := s.serve(s.httpServer, "api"); err != nil {
		_ = s.Shutdown(context.Background())
		return nil, err
	}

	if httpAddr := appConfig.Server.PrivateHttpListen; len(httpAddr) > 0 {
		s.privateHttpServer = &http.Server{
			Addr:           httpAddr,
			Handler:        routers.NewPrivateRouterWithLogger(runMode, lg),
			ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		if err := s.serve(s.privateHttpServer, "private api"); err != nil {
			_ = s.Shutdown(context.Background())
			return nil, err
		}
	}

	return s, nil
}

// serve binds srv synchronously so a busy port fails NewServer, then serves in the background
// serve 同步绑定端口，端口被占用时 NewServer 直接失败，随后在后台提供服务
func (s *Server) serve(srv *http.Server, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "%s listen %s", name, srv.Addr)
	}
	s.logger.Warn(name+" listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(name+" service err", zap.Error(err))
			s.errs <- err
		}
	}()
	return nil
}

// Errors reports listener failures after startup
// Errors 报告启动后的监听失败
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown stops both HTTP servers and the maintenance tasks, then closes the App Container
// Shutdown 停止 HTTP 服务器与维护任务，然后关闭 App Container
func (s *Server) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, srv := range []*http.Server{s.httpServer, s.privateHttpServer} {
		if srv == nil {
			continue
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err := g.Wait()
	if err != nil {
		s.logger.Error("http shutdown error", zap.Error(err))
	}
	if s.tasks != nil {
		s.tasks.Stop()
	}
	if s.app != nil {
		if cerr := s.app.Close(); cerr != nil {
			s.logger.Error("failed to close app container", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}
	_ = s.logger.Sync()
	return err
}

// GetApp gets App Container
// GetApp 获取 App Container
func (s *Server) GetApp() *internalApp.App {
	return s.app
}

// GetConfig gets app configuration
// GetConfig 获取应用配置
func (s *Server) GetConfig() *internalApp.AppConfig {
	return s.config
}
