package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"resumeforge/internal/catalog"
	"resumeforge/internal/pdf"
	"resumeforge/internal/storage"
	"resumeforge/internal/tasks"
)

const (
	thumbnailQuality = 80
	thumbnailURLTTL  = 7 * 24 * time.Hour
)

// TemplateStore is the part of the catalog store used for thumbnails.
type TemplateStore interface {
	Get(ctx context.Context, id string) (catalog.Template, error)
	SetPreviewImage(ctx context.Context, id, url string) error
}

// ThumbnailHandler 负责模板缩略图生成任务。
type ThumbnailHandler struct {
	templates TemplateStore
	shooter   pdf.Shooter
	objects   storage.ObjectStore
	logger    *slog.Logger
}

func NewThumbnailHandler(templates TemplateStore, shooter pdf.Shooter, objects storage.ObjectStore, logger *slog.Logger) *ThumbnailHandler {
	return &ThumbnailHandler{
		templates: templates,
		shooter:   shooter,
		objects:   objects,
		logger:    logger,
	}
}

func (h *ThumbnailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.TemplateThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal template thumbnail payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("template_id", payload.TemplateID),
		slog.String("correlation_id", payload.CorrelationID),
	)
	log.Info("starting template thumbnail task")

	tpl, err := h.templates.Get(ctx, payload.TemplateID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn("template not found, skipping task")
			return nil
		}
		log.Error("query template failed", slog.Any("error", err))
		return err
	}

	img, err := h.shooter.Screenshot(ctx, tpl.Markup, thumbnailQuality)
	if err != nil {
		log.Error("capture template screenshot failed", slog.Any("error", err))
		return err
	}

	key := storage.ThumbnailKey(tpl.ID)
	if err := h.objects.PutBytes(ctx, key, img, "image/jpeg"); err != nil {
		log.Error("upload template thumbnail failed", slog.Any("error", err))
		return err
	}

	url, err := h.objects.PresignedURL(ctx, key, thumbnailURLTTL, "")
	if err != nil {
		log.Error("generate template thumbnail url failed", slog.Any("error", err))
		return err
	}
	if err := h.templates.SetPreviewImage(ctx, tpl.ID, url); err != nil {
		log.Error("update template preview url failed", slog.Any("error", err))
		return err
	}

	log.Info("template thumbnail completed")
	return nil
}
