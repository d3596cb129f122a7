package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PresencePurgeTask deletes presence documents nobody refreshed within the retention
// PresencePurgeTask 删除保留期内无人刷新的在线状态文档
//
// Clients only hide stale records locally, so records of crashed clients stay in
// the store until this task removes them.
type PresencePurgeTask struct {
	store     docstore.Store
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func (t *PresencePurgeTask) Name() string {
	return "PresencePurge"
}

func (t *PresencePurgeTask) LoopInterval() time.Duration {
	return t.interval
}

func (t *PresencePurgeTask) IsStartupRun() bool {
	return true
}

// Run 执行清理
func (t *PresencePurgeTask) Run(ctx context.Context) error {
	boards, err := t.store.Query(ctx, docstore.Collection(domain.BoardsCollection))
	if err != nil {
		return errors.Wrap(err, "list boards")
	}

	now := t.now()
	purged := 0
	for _, b := range boards {
		docs, err := t.store.Query(ctx, docstore.Collection(domain.PresencePath(b.ID)))
		if err != nil {
			return errors.Wrapf(err, "list presence of %s", b.ID)
		}
		var stale []string
		for _, d := range docs {
			var rec domain.PresenceRecord
			if err := docstore.Decode(d.Data, &rec); err != nil {
				t.logger.Warn("undecodable presence document", zap.String(logger.FieldPath, d.Path), zap.Error(err))
				stale = append(stale, d.Path)
				continue
			}
			if rec.StaleAt(now, t.retention) {
				stale = append(stale, d.Path)
			}
		}
		if len(stale) == 0 {
			continue
		}
		if err := t.store.BatchDelete(ctx, stale); err != nil {
			return errors.Wrapf(err, "purge presence of %s", b.ID)
		}
		purged += len(stale)
	}

	t.logger.Info("task log",
		zap.String("task", t.Name()),
		zap.Int("boards", len(boards)),
		zap.Int("purged", purged))
	return nil
}

// NewPresencePurgeTask 创建在线状态清理任务；维护间隔为 0 时不启用
func NewPresencePurgeTask(appContainer *app.App) (Task, error) {
	cfg := appContainer.Config()
	interval := cfg.GetMaintenanceInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &PresencePurgeTask{
		store:     appContainer.Store,
		logger:    appContainer.Logger(),
		interval:  interval,
		retention: cfg.GetPresenceRetention(),
		now:       time.Now,
	}, nil
}

func init() {
	Register(NewPresencePurgeTask)
}
