package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/auth"
	"resumeforge/internal/config"
	"resumeforge/internal/pdf"
	"resumeforge/internal/session"
)

// Deps 汇总路由所需的依赖，由 cmd/api 组装。
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Verifier  auth.Verifier
	Redis     *redis.Client
	Documents DocumentStore
	Templates TemplateCatalog
	Objects   ObjectStore
	Queue     Enqueuer
	Engine    pdf.Engine
	Sessions  *session.Manager
	Previews  PreviewLocator
	Edits     session.EditService
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	maxBytes := cfg.Upload.MaxBytes

	// 避免把 nil *redis.Client 装进接口
	var counter redisRateCounter
	if d.Redis != nil {
		counter = d.Redis
	}
	quota := NewLLMQuota(counter, cfg.API.LLMRateLimitPerHour)

	editorHandler := NewEditorHandler(d.Sessions.Workflow(), d.Edits, d.Engine, quota, cfg.Upload.Extensions(), maxBytes)
	templateHandler := NewTemplateHandler(d.Templates)
	documentHandler := NewDocumentHandler(d.Documents, d.Objects, d.Queue, d.Sessions)
	sessionHandler := NewSessionHandler(d.Sessions, d.Previews, quota, maxBytes)
	authMiddleware := middleware.AuthMiddleware(d.Verifier)

	v1 := router.Group("/v1")
	{
		if d.Redis != nil {
			wsHandler := NewWsHandler(d.Redis, d.Verifier, d.Logger, cfg.API.AllowedOrigins())
			v1.GET("/ws", wsHandler.HandleConnection)
		}

		authed := v1.Group("")
		authed.Use(authMiddleware)
		{
			authed.POST("/upload", editorHandler.Upload)
			authed.POST("/process_html", editorHandler.ProcessHTML)
			authed.POST("/modify-resume", editorHandler.ModifyResume)
			authed.POST("/preview-pdf-bytes", editorHandler.PreviewPDFBytes)
			authed.POST("/generate-pdf", editorHandler.GeneratePDF)
		}

		templates := v1.Group("/templates")
		templates.Use(authMiddleware)
		{
			templates.GET("", templateHandler.ListTemplates)
			templates.GET("/categories", templateHandler.ListCategories)
			templates.GET("/get-raw-code", templateHandler.GetRawCode)
			templates.GET("/:id", templateHandler.GetTemplate)
		}

		documents := v1.Group("/documents")
		documents.Use(authMiddleware)
		{
			documents.POST("", documentHandler.CreateDocument)
			documents.GET("", documentHandler.ListDocuments)
			documents.GET("/:id", documentHandler.GetDocument)
			documents.PUT("/:id", documentHandler.UpdateDocument)
			documents.DELETE("/:id", documentHandler.DeleteDocument)
			documents.POST("/:id/export", documentHandler.ExportDocument)
			documents.GET("/:id/download-link", documentHandler.GetDownloadLink)

			documents.POST("/:id/session", sessionHandler.OpenSession)
			documents.GET("/:id/session", sessionHandler.GetState)
			documents.DELETE("/:id/session", sessionHandler.CloseSession)
			documents.POST("/:id/session/ingest", sessionHandler.Ingest)
			documents.POST("/:id/session/messages", sessionHandler.PostMessage)
			documents.POST("/:id/session/undo", sessionHandler.Undo)
			documents.GET("/:id/session/preview", sessionHandler.GetPreview)
		}
	}
}
