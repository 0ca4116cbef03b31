package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 导出状态
const (
	ExportStatusNone       = ""
	ExportStatusPending    = "pending"
	ExportStatusProcessing = "processing"
	ExportStatusCompleted  = "completed"
	ExportStatusFailed     = "failed"
)

// Document 表示用户的一份简历文档，只保存最新的 HTML 快照。
type Document struct {
	gorm.Model
	UserID          string `gorm:"index;size:128;not null"`
	Title           string `gorm:"size:255"`
	HTMLContent     string `gorm:"type:text"`
	Version         int    `gorm:"not null;default:1"`
	ExtractedData   string `gorm:"type:text"`
	TemplateID      string `gorm:"size:128"`
	SourceObjectKey string `gorm:"size:512"`
	PdfObjectKey    string `gorm:"size:512"`
	ExportStatus    string `gorm:"size:32"`
}

// Template 表示目录中的一个简历模板，ID 为文件名去掉扩展名后的 slug。
type Template struct {
	ID              string         `gorm:"primaryKey;size:128"`
	Name            string         `gorm:"size:255"`
	Description     string         `gorm:"size:1024"`
	Category        string         `gorm:"index;size:64"`
	Filename        string         `gorm:"uniqueIndex;size:255"`
	Markup          string         `gorm:"type:text"`
	Tags            datatypes.JSON `gorm:"type:jsonb"`
	PreviewImageURL string         `gorm:"size:512"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Migrate 创建或更新所有表结构。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{}, &Template{})
}
