package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePDFExport         = "pdf:export"
	TypeTemplateThumbnail = "template:thumbnail"
)

// ExportMaxRetry 是导出任务的最大重试次数。
const ExportMaxRetry = 3

// PDFExportPayload 描述导出一份文档 PDF 所需的信息。
type PDFExportPayload struct {
	DocumentID    uint   `json:"document_id"`
	UserID        string `json:"user_id"`
	Version       int    `json:"version"`
	CorrelationID string `json:"correlation_id"`
}

// NewPDFExportTask 构造导出任务。
func NewPDFExportTask(p PDFExportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePDFExport, payload, asynq.MaxRetry(ExportMaxRetry)), nil
}

// TemplateThumbnailPayload 指定需要生成缩略图的模板。
type TemplateThumbnailPayload struct {
	TemplateID    string `json:"template_id"`
	CorrelationID string `json:"correlation_id"`
}

func NewTemplateThumbnailTask(templateID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TemplateThumbnailPayload{
		TemplateID:    templateID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTemplateThumbnail, payload, asynq.MaxRetry(1)), nil
}
