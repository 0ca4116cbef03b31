package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/errcode"
	"resumeforge/internal/preview"
	"resumeforge/internal/session"
)

// PreviewLocator 返回文档当前预览的访问链接。
type PreviewLocator interface {
	URL(ctx context.Context, docID uint) (string, preview.Preview, error)
}

// SessionHandler 负责编辑会话：导入、对话修改、撤销与预览。
type SessionHandler struct {
	sessions *session.Manager
	previews PreviewLocator
	quota    *LLMQuota
	maxBytes int64
}

func NewSessionHandler(sessions *session.Manager, previews PreviewLocator, quota *LLMQuota, maxBytes int64) *SessionHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &SessionHandler{sessions: sessions, previews: previews, quota: quota, maxBytes: maxBytes}
}

// openSession 取出已打开的会话；未打开时返回 404。
func (h *SessionHandler) openSession(c *gin.Context) (*session.Session, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return nil, false
	}
	id, ok := documentID(c)
	if !ok {
		return nil, false
	}
	s, ok := h.sessions.Get(userID, id)
	if !ok {
		NotFound(c, "session not open")
		return nil, false
	}
	return s, true
}

// POST /v1/documents/:id/session
func (h *SessionHandler) OpenSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), userID, id)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.State())
}

// GET /v1/documents/:id/session
func (h *SessionHandler) GetState(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.State())
}

// POST /v1/documents/:id/session/ingest
// multipart: file, template_id。进度通过 WebSocket 推送 ingest_stage 事件。
func (h *SessionHandler) Ingest(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	filename, data, err := readUpload(c, h.maxBytes)
	if err != nil {
		Fail(c, err)
		return
	}

	upload := session.Upload{
		Filename:      filename,
		Data:          data,
		TemplateID:    strings.TrimSpace(c.PostForm("template_id")),
		CorrelationID: middleware.GetCorrelationID(c),
	}
	if err := h.sessions.Workflow().CheckUpload(c.Request.Context(), upload); err != nil {
		Fail(c, err)
		return
	}
	if !h.quota.Allow(c) {
		return
	}

	res, err := h.sessions.Workflow().Ingest(c.Request.Context(), s, upload)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"html_code":      res.HTML,
		"extracted_data": res.ExtractedData,
		"version":        res.Version,
		"state":          s.State(),
	})
}

type messageRequest struct {
	Instruction string `json:"instruction"`
}

// POST /v1/documents/:id/session/messages
// 修改失败时返回 200，turn.failed=true，失败说明已写入对话记录。
func (h *SessionHandler) PostMessage(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		Fail(c, errcode.Validation("instruction is required"))
		return
	}
	if _, err := s.Current(); err != nil {
		Fail(c, errcode.Validation("document has no content yet, upload a resume first"))
		return
	}
	if !h.quota.Allow(c) {
		return
	}

	turn, err := h.sessions.Workflow().Submit(c.Request.Context(), s, req.Instruction)
	if err != nil && !turn.Failed {
		Fail(c, err)
		return
	}
	body := gin.H{
		"success": err == nil,
		"turn":    turn,
		"state":   s.State(),
	}
	if err != nil {
		body["error"] = errcode.Message(err)
		body["error_code"] = errcode.KindOf(err).Code()
	}
	c.JSON(http.StatusOK, body)
}

// POST /v1/documents/:id/session/undo
func (h *SessionHandler) Undo(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	res, err := h.sessions.Workflow().Undo(c.Request.Context(), s)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"undo":  res,
		"state": s.State(),
	})
}

// GET /v1/documents/:id/session/preview
func (h *SessionHandler) GetPreview(c *gin.Context) {
	s, ok := h.openSession(c)
	if !ok {
		return
	}
	url, p, err := h.previews.URL(c.Request.Context(), s.DocumentID)
	if err != nil {
		if errors.Is(err, preview.ErrNoPreview) {
			NotFound(c, "no preview available yet")
			return
		}
		Internal(c, "failed to generate preview link")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":         url,
		"version":     p.Version,
		"rendered_at": p.RenderedAt.Format(time.RFC3339),
	})
}

// DELETE /v1/documents/:id/session
func (h *SessionHandler) CloseSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	if !h.sessions.Close(userID, id) {
		NotFound(c, "session not open")
		return
	}
	c.Status(http.StatusNoContent)
}
