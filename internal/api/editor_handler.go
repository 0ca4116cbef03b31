package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/errcode"
	"resumeforge/internal/extract"
	"resumeforge/internal/llm"
	"resumeforge/internal/pdf"
	"resumeforge/internal/session"
	"resumeforge/internal/storage"
)

// EditorHandler 提供无会话状态的导入、修改与 PDF 接口。
type EditorHandler struct {
	workflow   *session.Workflow
	edits      session.EditService
	engine     pdf.Engine
	quota      *LLMQuota
	extensions []string
	maxBytes   int64
}

func NewEditorHandler(workflow *session.Workflow, edits session.EditService, engine pdf.Engine, quota *LLMQuota, extensions []string, maxBytes int64) *EditorHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &EditorHandler{
		workflow:   workflow,
		edits:      edits,
		engine:     engine,
		quota:      quota,
		extensions: extensions,
		maxBytes:   maxBytes,
	}
}

// readUpload 读取 multipart 中的 file 字段，超过上限视为校验失败。
func readUpload(c *gin.Context, maxBytes int64) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, errcode.Validation("no file uploaded")
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return "", nil, errcode.Validation(fmt.Sprintf("file exceeds %d bytes", maxBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, errcode.Validation(fmt.Sprintf("file exceeds %d bytes", maxBytes))
	}
	return fh.Filename, data, nil
}

// Upload 仅提取文本。
func (h *EditorHandler) Upload(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	filename, data, err := readUpload(c, h.maxBytes)
	if err != nil {
		Fail(c, err)
		return
	}
	if !extract.Allowed(filename, h.extensions) {
		Fail(c, errcode.Validation("unsupported file format"))
		return
	}

	res, err := extract.Text(filename, data)
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename":       filename,
		"success":        true,
		"extracted_text": res.Text,
		"method":         res.Method,
	})
}

// ProcessHTML 上传简历并套用模板，返回首版 HTML。
func (h *EditorHandler) ProcessHTML(c *gin.Context) {
	userID, ok := currentUser(c)
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
	if err := h.workflow.CheckUpload(c.Request.Context(), upload); err != nil {
		Fail(c, err)
		return
	}
	if !h.quota.Allow(c) {
		return
	}

	res, err := h.workflow.Process(c.Request.Context(), userID, 0, upload, nil)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindRejected {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": errcode.Message(err)})
			return
		}
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"html_code":      res.HTML,
		"extracted_data": res.ExtractedData,
	})
}

type modifyRequest struct {
	HTMLCode      string     `json:"html_code"`
	Prompt        string     `json:"prompt"`
	History       []llm.Turn `json:"history"`
	ExtractedData string     `json:"extracted_data"`
}

// ModifyResume 对传入的 HTML 执行一次修改。服务拒绝时返回 200 且 success=false。
func (h *EditorHandler) ModifyResume(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		Fail(c, errcode.Validation("prompt is required"))
		return
	}
	if strings.TrimSpace(req.HTMLCode) == "" {
		Fail(c, errcode.Validation("html_code is required"))
		return
	}
	if n := len(req.History); n > llm.MaxHistoryTurns {
		req.History = req.History[n-llm.MaxHistoryTurns:]
	}
	if !h.quota.Allow(c) {
		return
	}

	res, err := h.edits.Modify(c.Request.Context(), llm.EditRequest{
		HTML:          req.HTMLCode,
		Prompt:        strings.TrimSpace(req.Prompt),
		History:       req.History,
		ExtractedData: req.ExtractedData,
	})
	if err != nil {
		if errcode.KindOf(err) == errcode.KindRejected {
			c.JSON(http.StatusOK, gin.H{
				"success":    false,
				"html_code":  req.HTMLCode,
				"reply_text": "",
				"error":      errcode.Message(err),
			})
			return
		}
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"html_code":  res.HTML,
		"reply_text": res.Reply,
	})
}

func (h *EditorHandler) render(c *gin.Context) ([]byte, bool) {
	if _, ok := currentUser(c); !ok {
		return nil, false
	}
	html := c.PostForm("html_content")
	if strings.TrimSpace(html) == "" {
		Fail(c, errcode.Validation("html_content is required"))
		return nil, false
	}
	data, err := h.engine.Render(c.Request.Context(), html)
	if err != nil {
		// 客户端已断开
		if c.Request.Context().Err() != nil {
			return nil, false
		}
		Fail(c, errcode.Transport("pdf render failed", err))
		return nil, false
	}
	return data, true
}

// PreviewPDFBytes 同步渲染预览 PDF。
func (h *EditorHandler) PreviewPDFBytes(c *gin.Context) {
	data, ok := h.render(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", `inline; filename="preview.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

// GeneratePDF 同步渲染并以附件形式下载。
func (h *EditorHandler) GeneratePDF(c *gin.Context) {
	data, ok := h.render(c)
	if !ok {
		return
	}
	name := storage.DownloadName(c.DefaultPostForm("title", "resume"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/pdf", data)
}
