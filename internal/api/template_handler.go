package api

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"resumeforge/internal/catalog"
)

// TemplateCatalog 是模板目录的只读视图。
type TemplateCatalog interface {
	List(ctx context.Context) ([]catalog.Template, error)
	Get(ctx context.Context, id string) (catalog.Template, error)
	GetByFilename(ctx context.Context, filename string) (catalog.Template, error)
}

// TemplateHandler 负责模板相关的 API。
type TemplateHandler struct {
	catalog TemplateCatalog
}

func NewTemplateHandler(c TemplateCatalog) *TemplateHandler {
	return &TemplateHandler{catalog: c}
}

// GET /v1/templates?q=&category=
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.catalog.List(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	filtered := catalog.Filter(templates, c.Query("q"), c.Query("category"))
	c.JSON(http.StatusOK, gin.H{"templates": filtered})
}

// GET /v1/templates/categories
func (h *TemplateHandler) ListCategories(c *gin.Context) {
	templates, err := h.catalog.List(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": catalog.Categories(templates)})
}

// GET /v1/templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			NotFound(c, "template not found")
			return
		}
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// GET /v1/templates/get-raw-code?filename=
// 返回模板原始 HTML。
func (h *TemplateHandler) GetRawCode(c *gin.Context) {
	filename := strings.TrimSpace(c.Query("filename"))
	if filename == "" || filename != path.Base(filename) {
		BadRequest(c, "invalid filename")
		return
	}
	tpl, err := h.catalog.GetByFilename(c.Request.Context(), filename)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			NotFound(c, "template not found")
			return
		}
		Fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(tpl.Markup))
}
