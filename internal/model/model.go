package model

import (
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables of every model
// AutoMigrate 创建或更新所有模型对应的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{})
}
