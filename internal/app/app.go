// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/internal/service"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/workerpool"
	"github.com/haierkeys/fast-board-sync/pkg/writequeue"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// App 网关应用容器，封装存储、令牌与指标
type App struct {
	config *AppConfig
	logger *zap.Logger

	Store   docstore.Store
	Tokens  identity.TokenManager
	Metrics *metrics.Collector

	StartTime time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewApp 创建网关应用容器
// cfg: 应用配置（必须）
// logger: zap 日志器，nil 时使用 nop
func NewApp(cfg *AppConfig, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewAppWithStore(cfg, store, logger), nil
}

// NewAppWithStore 使用已打开的存储创建容器，存储的所有权转移给容器
func NewAppWithStore(cfg *AppConfig, store docstore.Store, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		config:    cfg,
		logger:    logger,
		Store:     store,
		Tokens:    identity.NewTokenManager(cfg.GetTokenConfig()),
		Metrics:   metrics.NewCollector(),
		StartTime: time.Now(),
	}
}

// OpenStore opens the document store selected by store.type
// OpenStore 按 store.type 打开文档存储
func OpenStore(cfg *AppConfig, logger *zap.Logger) (docstore.Store, error) {
	switch cfg.Store.Type {
	case StoreMemory:
		return docstore.NewMemoryStore(logger), nil
	case StoreSqlite, StoreMysql, StorePostgres:
		s, err := docstore.NewGormStore(cfg.GetDatabaseConfig(), logger)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s store", cfg.Store.Type)
		}
		return s, nil
	case StoreRedis:
		s, err := docstore.NewRedisStore(cfg.Store.RedisURL, cfg.Store.RedisPrefix, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open redis store")
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

func (a *App) Config() *AppConfig {
	return a.config
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Version 获取版本信息
func (a *App) Version() pkgapp.VersionInfo {
	return pkgapp.VersionInfo{
		Version:   Version,
		GitTag:    GitTag,
		BuildTime: BuildTime,
	}
}

// Authenticate resolves a gateway Authorization token
// Authenticate 解析网关 Authorization 令牌
func (a *App) Authenticate(token string) (*pkgapp.UserEntity, error) {
	claims, err := a.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	id := claims.Identity()
	return &pkgapp.UserEntity{ID: id.UserID, Nickname: id.Name()}, nil
}

// Close 关闭存储
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if err := a.Store.Close(); err != nil {
			a.closeErr = errors.Wrap(err, "close store")
		}
	})
	return a.closeErr
}

// ------------------------------------> SyncClient

// SyncClient one signed-in participant: the whole sync core wired to a store
// SyncClient 一个参与者：连接到文档存储的完整同步核心
type SyncClient struct {
	config *AppConfig
	logger *zap.Logger
	store  docstore.Store

	Identity *identity.TokenProvider
	Cache    *cache.Cache
	Writer   *service.WriteCoalescer
	Boards   *service.BoardService
	Presence *service.PresenceService
	Share    *service.ShareService
	Metrics  *metrics.Collector

	pool  *workerpool.Pool
	queue *writequeue.Manager

	closeOnce sync.Once
}

// NewSyncClient 创建同步核心；store 的生命周期由调用方管理
func NewSyncClient(cfg *AppConfig, store docstore.Store, logger *zap.Logger) *SyncClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	wpConfig := cfg.GetWorkerPoolConfig()
	wqConfig := cfg.GetWriteQueueConfig()
	syncConfig := cfg.GetSyncConfig()

	c := &SyncClient{
		config:   cfg,
		logger:   logger,
		store:    store,
		Identity: identity.NewTokenProvider(identity.NewTokenManager(cfg.GetTokenConfig()), logger),
		Cache:    cache.New(),
		Metrics:  metrics.NewCollector(),
	}
	c.pool = workerpool.New(&wpConfig, logger)
	c.queue = writequeue.New(&wqConfig, c.pool, logger)
	c.Writer = service.NewWriteCoalescer(c.queue, store, c.Cache, &syncConfig, c.Metrics, logger)
	c.Boards = service.NewBoardService(store, c.Identity, c.Cache, c.Writer, &syncConfig, c.Metrics, logger)
	c.Presence = service.NewPresenceService(store, c.Identity, c.Cache, c.Writer, &syncConfig, c.Metrics, logger)
	c.Share = service.NewShareService(store, c.Boards, c.Writer, &syncConfig, logger)
	c.Boards.AddListener(c.Presence)
	c.Boards.Start()
	return c
}

// SignIn verifies token and signs its identity in
// SignIn 校验令牌并登录其身份
func (c *SyncClient) SignIn(ctx context.Context, token string) error {
	_, err := c.Identity.SignIn(ctx, token)
	return err
}

// WaitActive blocks until a board is active or ctx is done
// WaitActive 阻塞直到看板激活或 ctx 结束
func (c *SyncClient) WaitActive(ctx context.Context) (string, error) {
	ch := make(chan struct{}, 1)
	stop := c.Boards.OnStateChange(func(s domain.BoardState) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	defer stop()
	for {
		if c.Boards.State() == domain.BoardActive {
			if id := c.Boards.ActiveBoardID(); id != "" {
				return id, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ch:
		}
	}
}

// Close flushes pending writes and tears the sync core down
// Close 刷新待写入数据并关闭同步核心
func (c *SyncClient) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if e := c.queue.Shutdown(ctx); e != nil {
			err = errors.Wrap(e, "write queue shutdown")
		}
		c.Boards.Close(ctx)
		if e := c.pool.Shutdown(ctx); e != nil && err == nil {
			err = errors.Wrap(e, "worker pool shutdown")
		}
	})
	return err
}
