// Package fileurl small filesystem helpers for config and data paths
// Package fileurl 配置与数据路径的文件系统辅助函数
package fileurl

import (
	"os"
	"path/filepath"
)

// IsExist determines if the given path exists
// IsExist 判断所给路径是否存在
func IsExist(dst string) bool {
	_, err := os.Stat(dst)
	if err != nil {
		return os.IsExist(err)
	}
	return true
}

// CreatePath creates the parent directory of dst
// CreatePath 创建 dst 的父目录
func CreatePath(dst string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(dst), perm)
}

// AbsPath absolute form of path, path itself when it cannot be resolved
func AbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
