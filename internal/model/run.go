package model

import (
	"time"
)

// Run 一次批量运行
type Run struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Mode      string      `json:"mode" gorm:"type:varchar(16);not null;index"`
	Status    string      `json:"status" gorm:"type:varchar(8);not null"`
	Stub      bool        `json:"stub"`
	Total     int         `json:"total"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Blocked   int         `json:"blocked"`
	Skipped   int         `json:"skipped"`
	StartTime time.Time   `json:"start_time" gorm:"index"`
	EndTime   time.Time   `json:"end_time"`
	Duration  int64       `json:"duration"` // 执行时长，毫秒
	Results   []RunResult `json:"results,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time   `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// RunStatus 运行总体状态
const (
	RunStatusOK = "OK"
	RunStatusNG = "NG"
)

// RunResult 单个 NF 的运行结果
type RunResult struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	NF        string    `json:"nf" gorm:"column:nf;type:varchar(128);not null"`
	Type      string    `json:"type" gorm:"type:varchar(32)"`
	Result    string    `json:"result" gorm:"type:varchar(16);not null"`
	Before    string    `json:"before" gorm:"type:varchar(32)"`
	After     string    `json:"after" gorm:"type:varchar(32)"`
	Changed   bool      `json:"changed"`
	Message   string    `json:"message" gorm:"type:text"`
	Output    string    `json:"output" gorm:"type:text"`
	Duration  int64     `json:"duration"` // 毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (RunResult) TableName() string {
	return "run_results"
}
