package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/nfregctl/nfregctl/internal/model"
)

var (
	// ErrNotInitialized 未配置数据库
	ErrNotInitialized = errors.New("database not initialized")
	// ErrRunNotFound 运行记录不存在
	ErrRunNotFound = errors.New("run not found")
)

// Enabled 是否已初始化数据库
func Enabled() bool {
	return db != nil
}

// SaveRun 保存运行及其 NF 结果
func SaveRun(run *model.Run) error {
	return TransactionWithRetry(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	}, 3, 0)
}

// ListRuns 按开始时间倒序列出运行，不含 NF 结果
func ListRuns(limit int) ([]model.Run, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []model.Run
	err := db.Order("start_time DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// GetRun 获取运行及其 NF 结果
func GetRun(id string) (*model.Run, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}
	var run model.Run
	err := db.Preload("Results", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id ASC")
	}).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
