package session

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"resumeforge/internal/catalog"
	"resumeforge/internal/errcode"
	"resumeforge/internal/extract"
	"resumeforge/internal/history"
	"resumeforge/internal/metrics"
	"resumeforge/internal/notify"
	"resumeforge/internal/scan"
	"resumeforge/internal/storage"
)

// Upload is a resume file plus the chosen template.
type Upload struct {
	Filename      string
	Data          []byte
	TemplateID    string
	CorrelationID string
}

// IngestResult is the first version produced from an upload.
type IngestResult struct {
	HTML          string `json:"html_code"`
	ExtractedData string `json:"extracted_data"`
	Version       int    `json:"version"`
	SourceKey     string `json:"-"`
}

// StageFunc observes ingestion progress.
type StageFunc func(Stage)

func (w *Workflow) validateUpload(u Upload) error {
	err := validation.ValidateStruct(&u,
		validation.Field(&u.Filename,
			validation.Required.Error("no file uploaded"),
			validation.By(func(any) error {
				if !extract.Allowed(u.Filename, w.extensions) {
					return errors.New("unsupported file format")
				}
				return nil
			}),
		),
		validation.Field(&u.Data,
			validation.Required.Error("uploaded file is empty"),
			validation.Length(1, int(w.maxUploadSize)).Error(fmt.Sprintf("file exceeds %d bytes", w.maxUploadSize)),
		),
		validation.Field(&u.TemplateID, validation.Required.Error("no template selected")),
	)
	if err != nil {
		return errcode.Validation(err.Error())
	}
	return nil
}

// CheckUpload validates u and resolves its template without doing any work, so callers can
// reject bad requests before spending model quota.
func (w *Workflow) CheckUpload(ctx context.Context, u Upload) error {
	_, err := w.checkUpload(ctx, u)
	return err
}

func (w *Workflow) checkUpload(ctx context.Context, u Upload) (catalog.Template, error) {
	if err := w.validateUpload(u); err != nil {
		return catalog.Template{}, err
	}
	tpl, err := w.templates.Get(ctx, u.TemplateID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Template{}, errcode.Validation("unknown template " + u.TemplateID)
	}
	if err != nil {
		return catalog.Template{}, fmt.Errorf("load template: %w", err)
	}
	return tpl, nil
}

// Process runs the stateless part of ingestion: validate, scan, extract text and fill the
// template. Stages are reported through onStage as each step starts.
func (w *Workflow) Process(ctx context.Context, userID string, docID uint, u Upload, onStage StageFunc) (IngestResult, error) {
	if onStage == nil {
		onStage = func(Stage) {}
	}
	tpl, err := w.checkUpload(ctx, u)
	if err != nil {
		return IngestResult{}, err
	}

	log := w.logger.With(
		slog.String("user_id", userID),
		slog.String("template_id", u.TemplateID),
		slog.String("filename", u.Filename),
	)

	onStage(StageUploading)
	if err := w.scanner.Scan(u.Data); err != nil {
		if errors.Is(err, scan.ErrInfected) {
			return IngestResult{}, errcode.Validation("malicious file detected")
		}
		return IngestResult{}, fmt.Errorf("scan upload: %w", err)
	}
	var res IngestResult
	if w.objects != nil && docID != 0 {
		key := storage.SourceKey(userID, docID, u.Filename)
		if err := w.objects.PutBytes(ctx, key, u.Data, "application/octet-stream"); err != nil {
			// 源文件仅作留档，存储失败不阻断导入
			log.Warn("store source file failed", slog.Any("error", err))
		} else {
			res.SourceKey = key
		}
	}

	onStage(StageExtracting)
	text, err := extract.Text(u.Filename, u.Data)
	if err != nil {
		return IngestResult{}, err
	}
	res.ExtractedData = text.Text
	log.Info("text extracted", slog.String("method", text.Method), slog.Int("chars", len(text.Text)))

	onStage(StageAnalyzing)
	filled, err := w.filler.Fill(ctx, tpl.Markup, text.Text)
	if err != nil {
		return IngestResult{}, err
	}

	onStage(StageApplyingLayout)
	res.HTML = ensureDocument(filled, tpl.Name)
	return res, nil
}

// Ingest replaces the session's content with a fresh version 1 built from the upload.
// On failure the session returns to idle and no version is created.
func (w *Workflow) Ingest(ctx context.Context, s *Session, u Upload) (IngestResult, error) {
	if !s.acquire() {
		return IngestResult{}, ErrBusy
	}
	defer s.release()
	s.touch()

	publish := func(stage Stage, err error) {
		s.setStage(stage)
		metrics.ObserveIngestStage(string(stage))
		msg := notify.Message{
			Type:          notify.TypeIngestStage,
			DocumentID:    s.DocumentID,
			Stage:         string(stage),
			CorrelationID: u.CorrelationID,
		}
		if err != nil {
			msg.ErrorCode = errcode.KindOf(err).Code()
			msg.ErrorMessage = errcode.Message(err)
		}
		_ = w.notifier.Publish(ctx, s.UserID, msg)
	}
	fail := func(err error) (IngestResult, error) {
		w.logger.Warn("ingestion failed",
			slog.Uint64("document_id", uint64(s.DocumentID)),
			slog.String("kind", errcode.KindOf(err).String()),
			slog.Any("error", err),
		)
		publish(StageFailed, err)
		s.setStage(StageIdle)
		return IngestResult{}, err
	}

	res, err := w.Process(ctx, s.UserID, s.DocumentID, u, func(st Stage) { publish(st, nil) })
	if err != nil {
		return fail(err)
	}

	publish(StageFinalizing, nil)
	s.mu.Lock()
	if err := s.history.ReplaceAll([]history.Entry{{ID: 1, HTML: res.HTML}}, 1); err != nil {
		s.mu.Unlock()
		return fail(err)
	}
	s.chat = nil
	s.extracted = res.ExtractedData
	s.templateID = u.TemplateID
	s.mu.Unlock()
	res.Version = 1

	if err := w.docs.SetExtractedData(ctx, s.UserID, s.DocumentID, res.ExtractedData, u.TemplateID, res.SourceKey); err != nil {
		w.logger.Error("store extracted data failed",
			slog.Uint64("document_id", uint64(s.DocumentID)),
			slog.Any("error", err),
		)
	}
	w.commit(ctx, s, history.Entry{ID: 1, HTML: res.HTML}, nil)

	publish(StageDone, nil)
	s.setStage(StageIdle)
	return res, nil
}

var htmlOpenRe = regexp.MustCompile(`(?i)<html[\s>]`)

// ensureDocument wraps an HTML fragment into a complete document.
func ensureDocument(markup, title string) string {
	markup = strings.TrimSpace(markup)
	if htmlOpenRe.MatchString(markup) {
		if !strings.HasPrefix(strings.ToLower(markup), "<!doctype") {
			markup = "<!DOCTYPE html>\n" + markup
		}
		return markup
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s\n</body>\n</html>",
		html.EscapeString(title), markup)
}
