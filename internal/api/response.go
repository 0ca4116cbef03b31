package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/document"
	"resumeforge/internal/errcode"
	"resumeforge/internal/session"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
}

func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// Fail 根据错误类别写出响应，系统错误不向调用方暴露细节。
func Fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		NotFound(c, "document not found")
		return
	case errors.Is(err, session.ErrBusy):
		Conflict(c, err.Error())
		return
	}

	var e *errcode.Error
	if !errors.As(err, &e) {
		middleware.LoggerFromContext(c).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":    false,
			"error":      "internal error",
			"error_code": errcode.SystemError,
		})
		return
	}
	if e.Kind == errcode.KindTransport || e.Kind == errcode.KindSystem {
		middleware.LoggerFromContext(c).Warn("request failed", "kind", e.Kind.String(), "error", err)
	}
	c.JSON(e.StatusCode(), gin.H{
		"success":    false,
		"error":      e.Message,
		"error_code": e.Kind.Code(),
	})
}

// currentUser 读取认证中间件注入的用户 ID，缺失时直接中止请求。
func currentUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		AbortUnauthorized(c)
	}
	return userID, ok
}

// documentID 解析路径中的文档 ID。
func documentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid document id")
		return 0, false
	}
	return uint(id), true
}
