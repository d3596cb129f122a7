package dao

import (
	"context"

	"github.com/haierkeys/fast-board-sync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository row level access to the documents table
// DocumentRepository documents 表的行级访问
type DocumentRepository struct {
	dao *Dao
}

// NewDocumentRepository creates a DocumentRepository
func NewDocumentRepository(dao *Dao) *DocumentRepository {
	return &DocumentRepository{dao: dao}
}

// Get returns the row at path, gorm.ErrRecordNotFound when missing
// Get 获取 path 对应的行，不存在时返回 gorm.ErrRecordNotFound
func (r *DocumentRepository) Get(ctx context.Context, path string) (*model.Document, error) {
	var m model.Document
	if err := r.dao.Db.WithContext(ctx).Where("path = ?", path).Take(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByCollection returns every row of a collection
// ListByCollection 返回集合中的所有行
func (r *DocumentRepository) ListByCollection(ctx context.Context, collection string) ([]*model.Document, error) {
	var rows []*model.Document
	err := r.dao.Db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("doc_id").
		Find(&rows).Error
	return rows, err
}

// Upsert inserts or replaces the row keyed by path
// Upsert 插入或替换 path 对应的行
func (r *DocumentRepository) Upsert(ctx context.Context, m *model.Document) error {
	return r.dao.Db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(m).Error
}

// DeletePaths removes all rows in one transaction
// DeletePaths 在单个事务中删除所有行
func (r *DocumentRepository) DeletePaths(ctx context.Context, paths []string) error {
	return r.dao.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("path IN ?", paths).Delete(&model.Document{}).Error
	})
}
