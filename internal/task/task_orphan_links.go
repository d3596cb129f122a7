package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OrphanLinkTask removes links whose source or target card no longer exists
// OrphanLinkTask 删除源卡片或目标卡片已不存在的连线
//
// Deleting a card and the links touching it are two writes, so a client that
// disconnects in between leaves dangling links behind.
type OrphanLinkTask struct {
	store    docstore.Store
	logger   *zap.Logger
	interval time.Duration
}

func (t *OrphanLinkTask) Name() string {
	return "OrphanLinkCleanup"
}

func (t *OrphanLinkTask) LoopInterval() time.Duration {
	return t.interval
}

func (t *OrphanLinkTask) IsStartupRun() bool {
	return true
}

// Run 执行清理
func (t *OrphanLinkTask) Run(ctx context.Context) error {
	boards, err := t.store.Query(ctx, docstore.Collection(domain.BoardsCollection))
	if err != nil {
		return errors.Wrap(err, "list boards")
	}

	removed := 0
	for _, b := range boards {
		n, err := t.cleanBoard(ctx, b.ID)
		if err != nil {
			return err
		}
		removed += n
	}

	t.logger.Info("task log",
		zap.String("task", t.Name()),
		zap.Int("boards", len(boards)),
		zap.Int("removed", removed))
	return nil
}

func (t *OrphanLinkTask) cleanBoard(ctx context.Context, boardID string) (int, error) {
	links, err := t.store.Query(ctx, docstore.Collection(domain.LinksPath(boardID)))
	if err != nil {
		return 0, errors.Wrapf(err, "list links of %s", boardID)
	}
	if len(links) == 0 {
		return 0, nil
	}
	cards, err := t.store.Query(ctx, docstore.Collection(domain.CardsPath(boardID)))
	if err != nil {
		return 0, errors.Wrapf(err, "list cards of %s", boardID)
	}
	exists := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		exists[c.ID] = struct{}{}
	}

	var orphans []string
	for _, d := range links {
		var l domain.Link
		if err := docstore.Decode(d.Data, &l); err != nil {
			continue
		}
		_, source := exists[l.SourceCardID]
		_, target := exists[l.TargetCardID]
		if !source || !target {
			orphans = append(orphans, d.Path)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := t.store.BatchDelete(ctx, orphans); err != nil {
		return 0, errors.Wrapf(err, "delete orphaned links of %s", boardID)
	}
	return len(orphans), nil
}

// NewOrphanLinkTask 创建孤立连线清理任务；维护间隔为 0 时不启用
func NewOrphanLinkTask(appContainer *app.App) (Task, error) {
	interval := appContainer.Config().GetMaintenanceInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &OrphanLinkTask{
		store:    appContainer.Store,
		logger:   appContainer.Logger(),
		interval: interval,
	}, nil
}

func init() {
	Register(NewOrphanLinkTask)
}
