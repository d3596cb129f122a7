package docstore

import (
	"context"
	"errors"

	"github.com/haierkeys/fast-board-sync/internal/dao"
	"github.com/haierkeys/fast-board-sync/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormStore Store persisted in a relational database through gorm
// GormStore 通过 gorm 持久化到关系型数据库的 Store
//
// Subscriptions are served in-process, so one GormStore should own the database.
type GormStore struct {
	*engine
	dao *dao.Dao
}

// NewGormStore opens the database described by c
// NewGormStore 打开 c 描述的数据库
func NewGormStore(c dao.Database, logger *zap.Logger) (*GormStore, error) {
	db, err := dao.NewDBEngine(c)
	if err != nil {
		return nil, err
	}
	d := dao.New(db)
	b := &gormBackend{dao: d, repo: dao.NewDocumentRepository(d)}
	return &GormStore{engine: newEngine(b, logger), dao: d}, nil
}

type gormBackend struct {
	dao  *dao.Dao
	repo *dao.DocumentRepository
}

func (g *gormBackend) toDocument(m *model.Document) (*Document, error) {
	data, err := unmarshalData(m.Data)
	if err != nil {
		return nil, err
	}
	return &Document{ID: m.DocID, Path: m.Path, Data: data}, nil
}

func (g *gormBackend) get(ctx context.Context, path string) (*Document, error) {
	m, err := g.repo.Get(ctx, path)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g.toDocument(m)
}

func (g *gormBackend) list(ctx context.Context, collection string) ([]Document, error) {
	rows, err := g.repo.ListByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(rows))
	for _, m := range rows {
		d, err := g.toDocument(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (g *gormBackend) put(ctx context.Context, doc Document) error {
	raw, err := marshalData(doc.Data)
	if err != nil {
		return err
	}
	c, id := ParentPath(doc.Path)
	return g.repo.Upsert(ctx, &model.Document{
		Path:       doc.Path,
		Collection: c,
		DocID:      id,
		Data:       raw,
	})
}

func (g *gormBackend) remove(ctx context.Context, paths []string) error {
	return g.repo.DeletePaths(ctx, paths)
}

func (g *gormBackend) close() error {
	return g.dao.Close()
}
