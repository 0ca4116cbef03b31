package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/database"
	"resumeforge/internal/errcode"
	"resumeforge/internal/session"
	"resumeforge/internal/storage"
	"resumeforge/internal/tasks"
)

const downloadLinkTTL = 5 * time.Minute

// DocumentStore 是文档持久层。
type DocumentStore interface {
	Create(ctx context.Context, userID, title string) (*database.Document, error)
	Load(ctx context.Context, userID string, id uint) (*database.Document, error)
	SetTitle(ctx context.Context, userID string, id uint, title string) error
	SetExport(ctx context.Context, userID string, id uint, status, objectKey string) error
	Delete(ctx context.Context, userID string, id uint) error
	List(ctx context.Context, userID string) ([]database.Document, error)
}

// ObjectStore 额外支持按前缀删除，用于删除文档时清理对象。
type ObjectStore interface {
	storage.ObjectStore
	DeletePrefix(ctx context.Context, prefix string) error
}

// Enqueuer 由 asynq.Client 实现。
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DocumentHandler 负责文档的增删改查与导出。
type DocumentHandler struct {
	docs     DocumentStore
	objects  ObjectStore
	queue    Enqueuer
	sessions *session.Manager
}

func NewDocumentHandler(docs DocumentStore, objects ObjectStore, queue Enqueuer, sessions *session.Manager) *DocumentHandler {
	return &DocumentHandler{docs: docs, objects: objects, queue: queue, sessions: sessions}
}

type documentListItem struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	Version      int       `json:"version"`
	TemplateID   string    `json:"template_id,omitempty"`
	ExportStatus string    `json:"export_status,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type documentResponse struct {
	documentListItem
	HTMLContent   string    `json:"html_content"`
	ExtractedData string    `json:"extracted_data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newListItem(d database.Document) documentListItem {
	return documentListItem{
		ID:           d.ID,
		Title:        d.Title,
		Version:      d.Version,
		TemplateID:   d.TemplateID,
		ExportStatus: d.ExportStatus,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newDocumentResponse(d database.Document) documentResponse {
	return documentResponse{
		documentListItem: newListItem(d),
		HTMLContent:      d.HTMLContent,
		ExtractedData:    d.ExtractedData,
		CreatedAt:        d.CreatedAt,
	}
}

type createDocumentRequest struct {
	Title string `json:"title"`
}

// POST /v1/documents
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req createDocumentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request body")
			return
		}
	}

	doc, err := h.docs.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newDocumentResponse(*doc))
}

// GET /v1/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	docs, err := h.docs.List(c.Request.Context(), userID)
	if err != nil {
		Fail(c, err)
		return
	}
	items := make([]documentListItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, newListItem(d))
	}
	c.JSON(http.StatusOK, gin.H{"documents": items})
}

// GET /v1/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.docs.Load(c.Request.Context(), userID, id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentResponse(*doc))
}

type updateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

// PUT /v1/documents/:id
// 仅修改标题；内容变更只能经由编辑会话。
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		Fail(c, errcode.Validation("title is required"))
		return
	}

	ctx := c.Request.Context()
	var err error
	if s, open := h.sessions.Get(userID, id); open {
		err = h.sessions.Workflow().Rename(ctx, s, req.Title)
	} else {
		err = h.docs.SetTitle(ctx, userID, id, req.Title)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	h.respondDocument(c, userID, id)
}

func (h *DocumentHandler) respondDocument(c *gin.Context, userID string, id uint) {
	doc, err := h.docs.Load(c.Request.Context(), userID, id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentResponse(*doc))
}

// DELETE /v1/documents/:id?confirm=true
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	if c.Query("confirm") != "true" {
		BadRequest(c, "deletion must be confirmed with confirm=true")
		return
	}

	ctx := c.Request.Context()
	if err := h.docs.Delete(ctx, userID, id); err != nil {
		Fail(c, err)
		return
	}
	h.sessions.Close(userID, id)

	log := middleware.LoggerFromContext(c)
	for _, prefix := range storage.DocumentPrefixes(userID, id) {
		if err := h.objects.DeletePrefix(ctx, prefix); err != nil {
			log.Warn("delete document objects failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/documents/:id/export
// 导出任务入队后立即返回 202。
func (h *DocumentHandler) ExportDocument(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	doc, err := h.docs.Load(ctx, userID, id)
	if err != nil {
		Fail(c, err)
		return
	}
	if strings.TrimSpace(doc.HTMLContent) == "" {
		Fail(c, errcode.Validation("document has no content to export"))
		return
	}

	task, err := tasks.NewPDFExportTask(tasks.PDFExportPayload{
		DocumentID:    doc.ID,
		UserID:        userID,
		Version:       doc.Version,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		Internal(c, "failed to create task")
		return
	}
	if err := h.docs.SetExport(ctx, userID, doc.ID, database.ExportStatusPending, ""); err != nil {
		Fail(c, err)
		return
	}
	info, err := h.queue.Enqueue(task)
	if err != nil {
		_ = h.docs.SetExport(ctx, userID, doc.ID, database.ExportStatusFailed, "")
		Internal(c, "failed to enqueue pdf export")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "PDF export request accepted",
		"task_id": info.ID,
		"version": doc.Version,
	})
}

// GET /v1/documents/:id/download-link
func (h *DocumentHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}

	doc, err := h.docs.Load(c.Request.Context(), userID, id)
	if err != nil {
		Fail(c, err)
		return
	}
	if doc.ExportStatus != database.ExportStatusCompleted || doc.PdfObjectKey == "" {
		c.JSON(http.StatusConflict, gin.H{
			"success":       false,
			"error":         "pdf not ready",
			"export_status": doc.ExportStatus,
		})
		return
	}

	url, err := h.objects.PresignedURL(c.Request.Context(), doc.PdfObjectKey, downloadLinkTTL, storage.DownloadName(doc.Title))
	if err != nil {
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
