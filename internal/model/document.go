package model

import "time"

// Document one stored document row
// Document 存储的文档行
type Document struct {
	// Path full document path, e.g. boards/B/cards/C
	Path string `gorm:"column:path;primaryKey;size:512" json:"path"`
	// Collection parent collection path, e.g. boards/B/cards
	// Collection 所属集合路径
	Collection string `gorm:"column:collection;size:512;index:idx_documents_collection" json:"collection"`
	DocID      string `gorm:"column:doc_id;size:191" json:"docId"`
	// Data JSON encoded document body
	// Data JSON 编码的文档内容
	Data      string    `gorm:"column:data;type:text" json:"data"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName documents
func (Document) TableName() string {
	return "documents"
}
