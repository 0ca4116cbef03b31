package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"resumeforge/internal/database"
	"resumeforge/internal/document"
	"resumeforge/internal/errcode"
	"resumeforge/internal/notify"
	"resumeforge/internal/pdf"
	"resumeforge/internal/storage"
	"resumeforge/internal/tasks"
)

const downloadURLTTL = 24 * time.Hour

// ExportStore is the part of the document store used by exports.
type ExportStore interface {
	Load(ctx context.Context, userID string, id uint) (*database.Document, error)
	SetExport(ctx context.Context, userID string, id uint, status, objectKey string) error
}

// ExportHandler 负责消费 PDF 导出任务。
type ExportHandler struct {
	docs     ExportStore
	engine   pdf.Engine
	objects  storage.ObjectStore
	notifier notify.Publisher
	logger   *slog.Logger
}

func NewExportHandler(docs ExportStore, engine pdf.Engine, objects storage.ObjectStore, notifier notify.Publisher, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		docs:     docs,
		engine:   engine,
		objects:  objects,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ExportHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.PDFExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("document_id", uint64(payload.DocumentID)),
		slog.String("user_id", payload.UserID),
	)
	log.Info("starting pdf export task")

	doc, err := h.docs.Load(ctx, payload.UserID, payload.DocumentID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			log.Warn("document not found, skipping task")
			return nil
		}
		log.Error("load document failed", slog.Any("error", err))
		return err
	}

	if strings.TrimSpace(doc.HTMLContent) == "" {
		h.finishFailed(ctx, payload, log, errcode.Validation("document has no content to export"))
		return nil
	}
	if payload.Version != 0 && doc.Version != payload.Version {
		log.Warn("stored version moved on, exporting latest",
			slog.Int("requested_version", payload.Version),
			slog.Int("stored_version", doc.Version),
		)
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		h.finishFailed(ctx, payload, log, retErr)
	}()

	if err := h.docs.SetExport(ctx, payload.UserID, doc.ID, database.ExportStatusProcessing, doc.PdfObjectKey); err != nil {
		log.Error("mark export processing failed", slog.Any("error", err))
		return err
	}

	data, err := h.engine.Render(ctx, doc.HTMLContent)
	if err != nil {
		log.Error("render pdf failed", slog.Any("error", err))
		return err
	}

	key := storage.ExportKey(payload.UserID, doc.ID)
	if err := h.objects.PutBytes(ctx, key, data, "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}
	if err := h.docs.SetExport(ctx, payload.UserID, doc.ID, database.ExportStatusCompleted, key); err != nil {
		log.Error("update document export failed", slog.Any("error", err))
		return err
	}
	if doc.PdfObjectKey != "" && doc.PdfObjectKey != key {
		if err := h.objects.Delete(ctx, doc.PdfObjectKey); err != nil {
			log.Warn("delete previous export failed", slog.String("key", doc.PdfObjectKey), slog.Any("error", err))
		}
	}

	url, err := h.objects.PresignedURL(ctx, key, downloadURLTTL, storage.DownloadName(doc.Title))
	if err != nil {
		log.Warn("presign export failed", slog.Any("error", err))
	}
	if err := h.notifier.Publish(ctx, payload.UserID, notify.Message{
		Type:          notify.TypeExportCompleted,
		DocumentID:    doc.ID,
		Version:       doc.Version,
		URL:           url,
		CorrelationID: payload.CorrelationID,
	}); err != nil {
		log.Error("publish export notification failed", slog.Any("error", err))
	}

	log.Info("pdf export task completed", slog.String("key", key), slog.Int("bytes", len(data)))
	return nil
}

func (h *ExportHandler) finishFailed(ctx context.Context, p tasks.PDFExportPayload, log *slog.Logger, cause error) {
	if err := h.docs.SetExport(ctx, p.UserID, p.DocumentID, database.ExportStatusFailed, ""); err != nil {
		log.Error("mark export failed", slog.Any("error", err))
	}
	msg := notify.Message{
		Type:          notify.TypeExportFailed,
		DocumentID:    p.DocumentID,
		Version:       p.Version,
		ErrorCode:     errcode.KindOf(cause).Code(),
		ErrorMessage:  strings.TrimSpace(errcode.Message(cause)),
		CorrelationID: p.CorrelationID,
	}
	if err := h.notifier.Publish(ctx, p.UserID, msg); err != nil {
		log.Error("publish export error notification failed", slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
