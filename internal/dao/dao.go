// Package dao 实现数据访问层
// Package dao data access layer backing the relational document store
package dao

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database connection settings
// Database 数据库连接配置
type Database struct {
	// Type sqlite, mysql or postgres
	Type string
	// Path sqlite file, ":memory:" for a private in-memory database
	Path string
	// DSN mysql / postgres connection string
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	// Debug logs every SQL statement
	Debug bool
}

// Dao owns the gorm connection
type Dao struct {
	Db *gorm.DB
}

// New wraps db
func New(db *gorm.DB) *Dao {
	return &Dao{Db: db}
}

// DB returns the underlying connection
func (d *Dao) DB() *gorm.DB {
	return d.Db
}

// Close releases the connection pool
func (d *Dao) Close() error {
	sqlDB, err := d.Db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewDBEngine opens the database described by c and migrates the schema
// NewDBEngine 打开数据库连接并执行表结构迁移
func NewDBEngine(c Database) (*gorm.DB, error) {
	dialector, err := userDialector(c)
	if err != nil {
		return nil, err
	}

	level := logger.Silent
	if c.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", c.Type)
	}

	// 获取通用数据库对象 sql.DB ，然后使用其提供的功能
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.Type == "sqlite" {
		// sqlite allows one writer; a single connection also keeps ":memory:" databases shared
		sqlDB.SetMaxOpenConns(1)
	} else {
		if c.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		}
		if c.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(c.MaxOpenConns)
		}
		// SetConnMaxLifetime 设置了连接可复用的最大时间。
		sqlDB.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := model.AutoMigrate(db); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return db, nil
}

func userDialector(c Database) (gorm.Dialector, error) {
	switch c.Type {
	case "mysql":
		return mysql.Open(c.DSN), nil
	case "postgres":
		return postgres.Open(c.DSN), nil
	case "sqlite", "":
		path := c.Path
		if path == "" {
			path = ":memory:"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, errors.Wrap(err, "create database directory")
			}
		}
		return sqlite.Open(path), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", c.Type)
}
